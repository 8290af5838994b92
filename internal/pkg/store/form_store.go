package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	contract "github.com/paulexconde/fieldsurvey/pkg/store"
)

const formItemColumns = "id, form_id, mission_id, ancestry, rank, kind, question_id, hidden"

// Sibling sets whose ranks do not run 1..n without holes.
const rankGapsQuery = `SELECT EXISTS (
	SELECT 1 FROM form_items
	GROUP BY form_id, ancestry
	HAVING MIN(rank) <> 1 OR MAX(rank) <> COUNT(DISTINCT rank)
)`

const duplicateRanksQuery = `SELECT EXISTS (
	SELECT 1 FROM form_items
	GROUP BY form_id, ancestry, rank
	HAVING COUNT(*) > 1
)`

type FormStore struct {
	db *sqlx.DB
	formItemQueries
}

func NewFormStore(db *sqlx.DB) *FormStore {
	return &FormStore{db: db, formItemQueries: formItemQueries{q: db}}
}

var (
	_ contract.FormReader    = (*FormStore)(nil)
	_ contract.FormItemStore = (*FormStore)(nil)
	_ contract.FormWriter    = (*FormStore)(nil)
)

// WithinTx runs fn in a transaction and commits when it returns nil.
func (s *FormStore) WithinTx(ctx context.Context, fn func(tx contract.FormItemTx) error) error {
	return s.withinTx(ctx, func(q formItemQueries) error { return fn(q) })
}

// ImportForm runs fn in a transaction with the form design surface.
func (s *FormStore) ImportForm(ctx context.Context, fn func(tx contract.FormWriteTx) error) error {
	return s.withinTx(ctx, func(q formItemQueries) error { return fn(q) })
}

func (s *FormStore) withinTx(ctx context.Context, fn func(q formItemQueries) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, txOptions(s.db))
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(formItemQueries{q: tx})
	return err
}

// GetForm loads the form with its items, questions, options and conditions.
func (s *FormStore) GetForm(ctx context.Context, id int) (*models.Form, error) {
	var form models.Form
	err := sqlx.GetContext(ctx, s.db, &form, s.db.Rebind("SELECT id, mission_id, name FROM forms WHERE id = ?"), id)
	if err != nil {
		return nil, translateError(err)
	}

	if form.Items, err = s.LoadItems(ctx, id); err != nil {
		return nil, err
	}

	var questions []models.Question
	err = sqlx.SelectContext(ctx, s.db, &questions, s.db.Rebind(`
		SELECT DISTINCT q.id, q.mission_id, q.code, q.name, q.question_type
		FROM questions q JOIN form_items i ON i.question_id = q.id
		WHERE i.form_id = ?`), id)
	if err != nil {
		return nil, err
	}

	var options []models.Option
	err = sqlx.SelectContext(ctx, s.db, &options, s.db.Rebind(`
		SELECT o.id, o.question_id, o.code, o.name, o.rank
		FROM options o
		WHERE o.question_id IN (SELECT question_id FROM form_items WHERE form_id = ? AND question_id IS NOT NULL)
		ORDER BY o.question_id, o.rank, o.id`), id)
	if err != nil {
		return nil, err
	}

	var conditions []models.Condition
	err = sqlx.SelectContext(ctx, s.db, &conditions, s.db.Rebind(`
		SELECT c.id, c.questioning_id, c.expression
		FROM conditions c JOIN form_items i ON i.id = c.questioning_id
		WHERE i.form_id = ?`), id)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[int]*models.Question, len(questions))
	for i := range questions {
		byQuestion[questions[i].ID] = &questions[i]
	}
	for _, o := range options {
		if q, ok := byQuestion[o.QuestionID]; ok {
			q.Options = append(q.Options, o)
		}
	}
	byItem := make(map[int]*models.Condition, len(conditions))
	for i := range conditions {
		byItem[conditions[i].QuestioningID] = &conditions[i]
	}

	form.Questioning = make(map[int]*models.Questioning)
	for _, item := range form.Items {
		if item.IsGroup() || item.QuestionID == nil {
			continue
		}
		q, ok := byQuestion[*item.QuestionID]
		if !ok {
			return nil, fmt.Errorf("form item %d references missing question %d", item.ID, *item.QuestionID)
		}
		form.Questioning[item.ID] = &models.Questioning{
			Item:      item,
			Question:  *q,
			Condition: byItem[item.ID],
		}
	}

	return &form, nil
}

// formItemQueries runs the form item statements against a database or a
// transaction.
type formItemQueries struct {
	q sqlx.ExtContext
}

func (f formItemQueries) FormMission(ctx context.Context, formID int) (int, error) {
	var mission int
	if err := sqlx.GetContext(ctx, f.q, &mission, f.q.Rebind("SELECT mission_id FROM forms WHERE id = ?"), formID); err != nil {
		return 0, translateError(err)
	}
	return mission, nil
}

func (f formItemQueries) LoadItems(ctx context.Context, formID int) ([]models.FormItem, error) {
	items := []models.FormItem{}
	query := f.q.Rebind("SELECT " + formItemColumns + " FROM form_items WHERE form_id = ? ORDER BY ancestry, rank, id")
	if err := sqlx.SelectContext(ctx, f.q, &items, query, formID); err != nil {
		return nil, err
	}
	return items, nil
}

func (f formItemQueries) UpdateItems(ctx context.Context, items []models.FormItem) error {
	query := f.q.Rebind("UPDATE form_items SET ancestry = ?, rank = ? WHERE id = ?")
	for _, it := range items {
		res, err := f.q.ExecContext(ctx, query, it.Ancestry, it.Rank, it.ID)
		if err != nil {
			return translateError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fault.ErrNotFound
		}
	}
	return nil
}

func (f formItemQueries) InsertItem(ctx context.Context, item *models.FormItem) error {
	query := f.q.Rebind(`INSERT INTO form_items (form_id, mission_id, ancestry, rank, kind, question_id, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	row := f.q.QueryRowxContext(ctx, query,
		item.FormID, item.MissionID, item.Ancestry, item.Rank, item.Kind, item.QuestionID, item.Hidden)
	if err := row.Scan(&item.ID); err != nil {
		return translateError(err)
	}
	return nil
}

func (f formItemQueries) RankGaps(ctx context.Context) (bool, error) {
	return f.exists(ctx, rankGapsQuery)
}

func (f formItemQueries) DuplicateRanks(ctx context.Context) (bool, error) {
	return f.exists(ctx, duplicateRanksQuery)
}

func (f formItemQueries) exists(ctx context.Context, query string) (bool, error) {
	var found bool
	if err := f.q.QueryRowxContext(ctx, query).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (f formItemQueries) InsertForm(ctx context.Context, form *models.Form) error {
	query := f.q.Rebind("INSERT INTO forms (mission_id, name) VALUES (?, ?) RETURNING id")
	if err := f.q.QueryRowxContext(ctx, query, form.MissionID, form.Name).Scan(&form.ID); err != nil {
		return translateError(err)
	}
	return nil
}

// UpsertQuestion reuses the mission's question with the same code, or
// creates it along with its options. Either way q ends up with ids set.
func (f formItemQueries) UpsertQuestion(ctx context.Context, q *models.Question) error {
	var existing models.Question
	err := sqlx.GetContext(ctx, f.q, &existing,
		f.q.Rebind("SELECT id, mission_id, code, name, question_type FROM questions WHERE mission_id = ? AND code = ?"),
		q.MissionID, q.Code)
	switch {
	case err == nil:
		if existing.Type != q.Type {
			return fault.ValidationFailed(fault.Field(q.Code, fmt.Sprintf("already exists with type %s", existing.Type)))
		}
		q.ID = existing.ID
		q.Options = nil
		return sqlx.SelectContext(ctx, f.q, &q.Options,
			f.q.Rebind("SELECT id, question_id, code, name, rank FROM options WHERE question_id = ? ORDER BY rank, id"), q.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	query := f.q.Rebind("INSERT INTO questions (mission_id, code, name, question_type) VALUES (?, ?, ?, ?) RETURNING id")
	if err := f.q.QueryRowxContext(ctx, query, q.MissionID, q.Code, q.Name, q.Type).Scan(&q.ID); err != nil {
		return translateError(err)
	}

	optQuery := f.q.Rebind("INSERT INTO options (question_id, code, name, rank) VALUES (?, ?, ?, ?) RETURNING id")
	for i := range q.Options {
		o := &q.Options[i]
		o.QuestionID = q.ID
		if o.Rank == 0 {
			o.Rank = i + 1
		}
		if err := f.q.QueryRowxContext(ctx, optQuery, o.QuestionID, o.Code, o.Name, o.Rank).Scan(&o.ID); err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (f formItemQueries) InsertCondition(ctx context.Context, c *models.Condition) error {
	query := f.q.Rebind("INSERT INTO conditions (questioning_id, expression) VALUES (?, ?) RETURNING id")
	if err := f.q.QueryRowxContext(ctx, query, c.QuestioningID, c.Expression).Scan(&c.ID); err != nil {
		return translateError(err)
	}
	return nil
}
