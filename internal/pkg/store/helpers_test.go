package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/paulexconde/fieldsurvey/internal/models"
	contract "github.com/paulexconde/fieldsurvey/pkg/store"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db))
	return db
}

type testUser struct {
	Login     string    `db:"login"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

func (u testUser) ToModel(id int) any {
	return &models.User{ID: id, Login: u.Login, Name: u.Name, CreatedAt: u.CreatedAt}
}

func createUser(t *testing.T, db *sqlx.DB, login string) *models.User {
	t.Helper()
	created, err := NewUserStore(db).Create(context.Background(), testUser{Login: login, Name: login, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	return created.(*models.User)
}

// seededForm is a stored form:
//
//	name (text)
//	group
//	  pets (select_multiple: cat, dog)
//	  pet_name (text), shown when "dog" in pets
//	color (select_one: red, blue)
type seededForm struct {
	form                    models.Form
	name, group, pets, petN models.FormItem
	color                   models.FormItem
	petsQ, colorQ           models.Question
}

func seedForm(t *testing.T, db *sqlx.DB) *seededForm {
	t.Helper()
	s := &seededForm{form: models.Form{MissionID: 3, Name: "Household"}}

	err := NewFormStore(db).ImportForm(context.Background(), func(tx contract.FormWriteTx) error {
		ctx := context.Background()
		if err := tx.InsertForm(ctx, &s.form); err != nil {
			return err
		}

		question := func(code string, typ models.QuestionType, opts ...string) models.Question {
			q := models.Question{MissionID: 3, Code: code, Type: typ}
			for _, o := range opts {
				q.Options = append(q.Options, models.Option{Code: o, Name: o})
			}
			require.NoError(t, tx.UpsertQuestion(ctx, &q))
			return q
		}
		item := func(ancestry string, rank int, q *models.Question) models.FormItem {
			it := models.FormItem{FormID: s.form.ID, MissionID: 3, Ancestry: ancestry, Rank: rank, Kind: models.KindGroup}
			if q != nil {
				it.Kind = models.KindQuestioning
				it.QuestionID = &q.ID
			}
			require.NoError(t, tx.InsertItem(ctx, &it))
			return it
		}

		nameQ := question("name", models.TypeText)
		s.petsQ = question("pets", models.TypeSelectMultiple, "cat", "dog")
		petNameQ := question("pet_name", models.TypeText)
		s.colorQ = question("color", models.TypeSelectOne, "red", "blue")

		s.name = item("", 1, &nameQ)
		s.group = item("", 2, nil)
		s.pets = item(s.group.ChildAncestry(), 1, &s.petsQ)
		s.petN = item(s.group.ChildAncestry(), 2, &petNameQ)
		s.color = item("", 3, &s.colorQ)

		return tx.InsertCondition(ctx, &models.Condition{QuestioningID: s.petN.ID, Expression: `"dog" in pets`})
	})
	require.NoError(t, err)
	return s
}
