package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	contract "github.com/paulexconde/fieldsurvey/pkg/store"
)

const placeColumns = "id, signature, latitude, longitude, full_name, temporary, created_at"

// PlaceStore works against a database or an open transaction; the response
// save hook binds one to its transaction.
type PlaceStore struct {
	q   sqlx.ExtContext
	now func() time.Time
}

var _ contract.PlaceStore = (*PlaceStore)(nil)

func NewPlaceStore(q sqlx.ExtContext) *PlaceStore {
	return &PlaceStore{q: q, now: time.Now}
}

func (s *PlaceStore) GetPlace(ctx context.Context, id int) (*models.Place, error) {
	var p models.Place
	if err := sqlx.GetContext(ctx, s.q, &p, s.q.Rebind("SELECT "+placeColumns+" FROM places WHERE id = ?"), id); err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

// FindOrCreate inserts p unless a place with its signature exists, then
// returns the stored row. Concurrent callers converge on the same place.
func (s *PlaceStore) FindOrCreate(ctx context.Context, p *models.Place) (*models.Place, error) {
	if p.Signature == "" {
		return nil, fault.NewInternalError("place has no signature", nil)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}

	insert := s.q.Rebind(`INSERT INTO places (signature, latitude, longitude, full_name, temporary, created_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (signature) DO NOTHING`)
	if _, err := s.q.ExecContext(ctx, insert, p.Signature, p.Latitude, p.Longitude, p.FullName, p.Temporary, p.CreatedAt); err != nil {
		return nil, translateError(err)
	}

	var found models.Place
	query := s.q.Rebind("SELECT " + placeColumns + " FROM places WHERE signature = ?")
	if err := sqlx.GetContext(ctx, s.q, &found, query, p.Signature); err != nil {
		return nil, translateError(err)
	}
	return &found, nil
}

func (s *PlaceStore) MarkPermanent(ctx context.Context, id int) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind("UPDATE places SET temporary = ? WHERE id = ?"), false, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

// DeleteUnreferencedTemporary removes temporary places no response points at.
func (s *PlaceStore) DeleteUnreferencedTemporary(ctx context.Context) (int64, error) {
	query := s.q.Rebind(`DELETE FROM places
		WHERE temporary = ? AND NOT EXISTS (SELECT 1 FROM responses r WHERE r.place_id = places.id)`)
	res, err := s.q.ExecContext(ctx, query, true)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
