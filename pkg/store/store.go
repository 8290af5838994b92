package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/paulexconde/fieldsurvey/internal/models"
)

// DTO is the write shape of a row. Fields tagged `db` become columns.
type DTO interface {
	ToModel(id int) any
}

// Hooks run inside the write transaction; an error rolls it back.
type Hooks struct {
	PreSave   []func(ctx context.Context, tx *sqlx.Tx, data DTO) error
	PreDelete []func(ctx context.Context, tx *sqlx.Tx, id int) error
}

// Datastorer is a table-backed store of T. Queries are written with `?`
// placeholders and rebound for the driver.
type Datastorer[T any] interface {
	Create(ctx context.Context, data DTO) (any, error)
	Delete(ctx context.Context, id int) error
	Get(ctx context.Context, query string, args ...any) (*T, error)
	Select(ctx context.Context, query string, args ...any) ([]T, error)
	// Count runs a query returning a single integer.
	Count(ctx context.Context, query string, args ...any) (int, error)

	SetHooks(hooks Hooks)
}

// FormReader loads a form aggregate: items, questions, options and conditions.
type FormReader interface {
	GetForm(ctx context.Context, id int) (*models.Form, error)
}

// FormItemTx is the form item surface available inside a transaction.
type FormItemTx interface {
	// FormMission returns the mission owning formID.
	FormMission(ctx context.Context, formID int) (int, error)
	LoadItems(ctx context.Context, formID int) ([]models.FormItem, error)
	UpdateItems(ctx context.Context, items []models.FormItem) error
	InsertItem(ctx context.Context, item *models.FormItem) error

	// Integrity audits over every form.
	RankGaps(ctx context.Context) (bool, error)
	DuplicateRanks(ctx context.Context) (bool, error)
}

type FormItemStore interface {
	FormItemTx
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx FormItemTx) error) error
}

// FormWriteTx creates form designs inside a transaction.
type FormWriteTx interface {
	FormItemTx
	InsertForm(ctx context.Context, form *models.Form) error
	UpsertQuestion(ctx context.Context, q *models.Question) error
	InsertCondition(ctx context.Context, c *models.Condition) error
}

type FormWriter interface {
	ImportForm(ctx context.Context, fn func(tx FormWriteTx) error) error
}

type ResponseStore interface {
	// SaveResponse writes the response, its answers and drops deleted answers
	// in one transaction.
	SaveResponse(ctx context.Context, resp *models.Response, deleted []*models.Answer) error
	GetResponse(ctx context.Context, id int) (*models.Response, error)
	ListWithAnswers(ctx context.Context, formID int) ([]*models.Response, error)
	CountSince(ctx context.Context, formID int, since time.Time) (int, error)
}

type PlaceStore interface {
	GetPlace(ctx context.Context, id int) (*models.Place, error)
	// FindOrCreate returns the place holding p.Signature, inserting p if none does.
	FindOrCreate(ctx context.Context, p *models.Place) (*models.Place, error)
	MarkPermanent(ctx context.Context, id int) error
	DeleteUnreferencedTemporary(ctx context.Context) (int64, error)
}
