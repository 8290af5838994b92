package store

import (
	"context"
	"reflect"

	"github.com/jmoiron/sqlx"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	contract "github.com/paulexconde/fieldsurvey/pkg/store"
)

// NewUserStore returns the users table store. Logins are unique regardless
// of case, and users that own responses cannot be deleted.
func NewUserStore(db *sqlx.DB) contract.Datastorer[models.User] {
	users := NewDataStore[models.User](db, "users")
	users.SetHooks(contract.Hooks{
		PreSave:   []func(ctx context.Context, tx *sqlx.Tx, data contract.DTO) error{refuseTakenLogin},
		PreDelete: []func(ctx context.Context, tx *sqlx.Tx, id int) error{refuseUserWithResponses},
	})
	return users
}

func refuseTakenLogin(ctx context.Context, tx *sqlx.Tx, data contract.DTO) error {
	login := loginOf(data)
	if login == "" {
		return nil
	}
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind("SELECT COUNT(*) FROM users WHERE LOWER(login) = LOWER(?)"), login); err != nil {
		return err
	}
	if n > 0 {
		return fault.ErrUniqueViolation
	}
	return nil
}

// loginOf reads the `db:"login"` field of a user DTO.
func loginOf(data contract.DTO) string {
	v := reflect.Indirect(reflect.ValueOf(data))
	if v.Kind() != reflect.Struct {
		return ""
	}
	for i := range v.NumField() {
		if v.Type().Field(i).Tag.Get("db") == "login" && v.Field(i).Kind() == reflect.String {
			return v.Field(i).String()
		}
	}
	return ""
}

func refuseUserWithResponses(ctx context.Context, tx *sqlx.Tx, id int) error {
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind("SELECT COUNT(*) FROM responses WHERE user_id = ?"), id); err != nil {
		return err
	}
	if n > 0 {
		return fault.NewClientError("user has submitted responses and cannot be deleted", fault.ErrForeignKeyViolation)
	}
	return nil
}
