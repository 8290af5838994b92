package store

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	contract "github.com/paulexconde/fieldsurvey/pkg/store"
)

const (
	responseColumns = "id, uuid, form_id, user_id, place_id, observed_at, reviewed, source, created_at"
	answerColumns   = "id, response_id, questioning_id, value, option_id"
)

// ResponseHook runs inside the save transaction, before the response row is
// written.
type ResponseHook func(ctx context.Context, tx *sqlx.Tx, resp *models.Response) error

type ResponseStore struct {
	db  *sqlx.DB
	now func() time.Time

	mu      sync.RWMutex
	preSave []ResponseHook
}

var _ contract.ResponseStore = (*ResponseStore)(nil)

func NewResponseStore(db *sqlx.DB) *ResponseStore {
	return &ResponseStore{db: db, now: time.Now}
}

// OnSave registers a hook run on every SaveResponse.
func (s *ResponseStore) OnSave(hooks ...ResponseHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preSave = append(s.preSave, hooks...)
}

func (s *ResponseStore) hooks() []ResponseHook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ResponseHook(nil), s.preSave...)
}

// SaveResponse writes resp and its answers and removes deleted, atomically.
// Answers are marked persisted once the transaction commits.
func (s *ResponseStore) SaveResponse(ctx context.Context, resp *models.Response, deleted []*models.Answer) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	hooks := s.hooks()

	tx, err := s.db.BeginTxx(ctx, txOptions(s.db))
	if err != nil {
		return err
	}

	wasNew := resp.IsNew()
	placeID, placeChanged := resp.PlaceID, resp.PlaceChanged
	var fresh []*models.Answer
	for _, a := range resp.Answers {
		if a.IsNew() {
			fresh = append(fresh, a)
		}
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			// Ids handed out by the rolled back inserts are void.
			if wasNew {
				resp.ID = 0
			}
			resp.PlaceID, resp.PlaceChanged = placeID, placeChanged
			for _, a := range fresh {
				a.ID = 0
			}
		}
	}()

	for _, hook := range hooks {
		if err = hook(ctx, tx, resp); err != nil {
			return err
		}
	}

	if err = s.writeResponse(ctx, tx, resp); err != nil {
		return err
	}

	for _, a := range deleted {
		if a.IsNew() {
			continue
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind("DELETE FROM answers WHERE id = ?"), a.ID); err != nil {
			err = translateError(err)
			return err
		}
	}

	for _, a := range resp.Answers {
		a.ResponseID = resp.ID
		if err = writeAnswer(ctx, tx, a); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	for _, a := range resp.Answers {
		a.MarkPersisted()
	}
	resp.PlaceChanged = false
	return nil
}

func (s *ResponseStore) writeResponse(ctx context.Context, tx *sqlx.Tx, resp *models.Response) error {
	if resp.IsNew() {
		if resp.CreatedAt.IsZero() {
			resp.CreatedAt = s.now().UTC()
		}
		query := tx.Rebind(`INSERT INTO responses (uuid, form_id, user_id, place_id, observed_at, reviewed, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		row := tx.QueryRowxContext(ctx, query,
			resp.UUID, resp.FormID, resp.UserID, resp.PlaceID, resp.ObservedAt, resp.Reviewed, resp.Source, resp.CreatedAt)
		return translateError(row.Scan(&resp.ID))
	}

	query := tx.Rebind("UPDATE responses SET place_id = ?, observed_at = ?, reviewed = ? WHERE id = ?")
	res, err := tx.ExecContext(ctx, query, resp.PlaceID, resp.ObservedAt, resp.Reviewed, resp.ID)
	if err != nil {
		return translateError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

func writeAnswer(ctx context.Context, tx *sqlx.Tx, a *models.Answer) error {
	if a.IsNew() {
		query := tx.Rebind("INSERT INTO answers (response_id, questioning_id, value, option_id) VALUES (?, ?, ?, ?) RETURNING id")
		if err := tx.QueryRowxContext(ctx, query, a.ResponseID, a.QuestioningID, a.Value, a.OptionID).Scan(&a.ID); err != nil {
			return translateError(err)
		}
	} else {
		query := tx.Rebind("UPDATE answers SET value = ?, option_id = ? WHERE id = ?")
		if _, err := tx.ExecContext(ctx, query, a.Value, a.OptionID, a.ID); err != nil {
			return translateError(err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM choices WHERE answer_id = ?"), a.ID); err != nil {
			return err
		}
	}

	choice := tx.Rebind("INSERT INTO choices (answer_id, option_id) VALUES (?, ?)")
	for _, optID := range a.OptionIDs {
		if _, err := tx.ExecContext(ctx, choice, a.ID, optID); err != nil {
			return translateError(err)
		}
	}
	return nil
}

// GetResponse loads a response with its answers.
func (s *ResponseStore) GetResponse(ctx context.Context, id int) (*models.Response, error) {
	var resp models.Response
	err := s.db.GetContext(ctx, &resp, s.db.Rebind("SELECT "+responseColumns+" FROM responses WHERE id = ?"), id)
	if err != nil {
		return nil, translateError(err)
	}

	answers, err := s.loadAnswers(ctx, "response_id = ?", id)
	if err != nil {
		return nil, err
	}
	resp.Answers = answers[resp.ID]
	return &resp, nil
}

// ListWithAnswers returns every response of formID, oldest first.
func (s *ResponseStore) ListWithAnswers(ctx context.Context, formID int) ([]*models.Response, error) {
	var responses []*models.Response
	query := s.db.Rebind("SELECT " + responseColumns + " FROM responses WHERE form_id = ? ORDER BY created_at, id")
	if err := s.db.SelectContext(ctx, &responses, query, formID); err != nil {
		return nil, err
	}

	answers, err := s.loadAnswers(ctx, "response_id IN (SELECT id FROM responses WHERE form_id = ?)", formID)
	if err != nil {
		return nil, err
	}
	for _, r := range responses {
		r.Answers = answers[r.ID]
	}
	return responses, nil
}

func (s *ResponseStore) CountSince(ctx context.Context, formID int, since time.Time) (int, error) {
	var n int
	query := s.db.Rebind("SELECT COUNT(*) FROM responses WHERE form_id = ? AND created_at >= ?")
	if err := s.db.GetContext(ctx, &n, query, formID, since.UTC()); err != nil {
		return 0, err
	}
	return n, nil
}

// loadAnswers fetches the answers matching where, with their choices, grouped
// by response id.
func (s *ResponseStore) loadAnswers(ctx context.Context, where string, args ...any) (map[int][]*models.Answer, error) {
	var answers []*models.Answer
	query := s.db.Rebind("SELECT " + answerColumns + " FROM answers WHERE " + where + " ORDER BY response_id, id")
	if err := s.db.SelectContext(ctx, &answers, query, args...); err != nil {
		return nil, err
	}

	var choices []struct {
		AnswerID int `db:"answer_id"`
		OptionID int `db:"option_id"`
	}
	query = s.db.Rebind("SELECT answer_id, option_id FROM choices WHERE answer_id IN (SELECT id FROM answers WHERE " + where + ") ORDER BY answer_id, id")
	if err := s.db.SelectContext(ctx, &choices, query, args...); err != nil {
		return nil, err
	}

	byID := make(map[int]*models.Answer, len(answers))
	grouped := make(map[int][]*models.Answer)
	for _, a := range answers {
		byID[a.ID] = a
		grouped[a.ResponseID] = append(grouped[a.ResponseID], a)
	}
	for _, c := range choices {
		if a, ok := byID[c.AnswerID]; ok {
			a.OptionIDs = append(a.OptionIDs, c.OptionID)
		}
	}
	for _, a := range answers {
		a.MarkPersisted()
	}
	return grouped, nil
}
