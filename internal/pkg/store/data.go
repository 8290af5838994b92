package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/paulexconde/fieldsurvey/pkg/fault"
	contract "github.com/paulexconde/fieldsurvey/pkg/store"
)

// dataStore is the generic single-table store behind users and response
// listings.
type dataStore[T any] struct {
	db        *sqlx.DB
	tablename string

	mu    sync.RWMutex
	hooks contract.Hooks
}

var _ contract.Datastorer[struct{}] = (*dataStore[struct{}])(nil)

func NewDataStore[T any](db *sqlx.DB, tablename string) *dataStore[T] {
	return &dataStore[T]{db: db, tablename: tablename}
}

func (s *dataStore[T]) SetHooks(hooks contract.Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks.PreSave = append(s.hooks.PreSave, hooks.PreSave...)
	s.hooks.PreDelete = append(s.hooks.PreDelete, hooks.PreDelete...)
}

func (s *dataStore[T]) snapshotHooks() contract.Hooks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hooks
}

func (s *dataStore[T]) Count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), args...); err != nil {
		return 0, translateError(err)
	}
	return n, nil
}

func (s *dataStore[T]) Get(ctx context.Context, query string, args ...any) (*T, error) {
	var result T
	if err := s.db.GetContext(ctx, &result, s.db.Rebind(query), args...); err != nil {
		return nil, translateError(err)
	}
	return &result, nil
}

func (s *dataStore[T]) Select(ctx context.Context, query string, args ...any) ([]T, error) {
	results := []T{}
	if err := s.db.SelectContext(ctx, &results, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return results, nil
}

// Create inserts data and returns data.ToModel with the new id.
func (s *dataStore[T]) Create(ctx context.Context, data contract.DTO) (model any, err error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	hooks := s.snapshotHooks()

	tx, err := s.db.BeginTxx(ctx, txOptions(s.db))
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, hook := range hooks.PreSave {
		if err = hook(ctx, tx, data); err != nil {
			return nil, err
		}
	}

	columns, placeholders := insertColumns(data)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", s.tablename, columns, placeholders)

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var id int
	if err = stmt.QueryRowContext(ctx, data).Scan(&id); err != nil {
		err = translateError(err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return data.ToModel(id), nil
}

// Delete removes the row with id after the PreDelete hooks agree.
func (s *dataStore[T]) Delete(ctx context.Context, id int) (err error) {
	hooks := s.snapshotHooks()

	tx, err := s.db.BeginTxx(ctx, txOptions(s.db))
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, hook := range hooks.PreDelete {
		if err = hook(ctx, tx, id); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tablename)), id)
	if err != nil {
		err = translateError(err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fault.ErrNotFound
		return err
	}

	return tx.Commit()
}
