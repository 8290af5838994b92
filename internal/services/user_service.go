package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	"github.com/paulexconde/fieldsurvey/pkg/store"
)

const userColumns = "id, login, name, email, phone, phone2, password_digest, created_at"

// Characters used for generated passwords; ambiguous glyphs are left out.
const passwordCharset = "234679acdefghjkmnpqrtvwxyz"

const (
	minPhoneDigits    = 9
	generatedPassword = 6
)

var (
	loginPattern  = regexp.MustCompile(`^[a-zA-Z0-9.]+$`)
	personName    = regexp.MustCompile(`(?i)^([a-z][a-z']+) ([a-z'\- ]+)$`)
	nonLetters    = regexp.MustCompile(`(?i)[^a-z]`)
	nonLoginChars = regexp.MustCompile(`(?i)[^a-z0-9.]`)
	nonDigits     = regexp.MustCompile(`[^0-9]`)
)

// UserDTO is the write shape of a user row.
type UserDTO struct {
	Login          string    `db:"login"`
	Name           string    `db:"name"`
	Email          string    `db:"email"`
	Phone          string    `db:"phone"`
	Phone2         string    `db:"phone2"`
	PasswordDigest string    `db:"password_digest"`
	CreatedAt      time.Time `db:"created_at"`
}

func (d UserDTO) ToModel(id int) any {
	return &models.User{
		ID:             id,
		Login:          d.Login,
		Name:           d.Name,
		Email:          d.Email,
		Phone:          d.Phone,
		Phone2:         d.Phone2,
		PasswordDigest: d.PasswordDigest,
		CreatedAt:      d.CreatedAt,
	}
}

// NewUser is the input of UserService.Create.
type NewUser struct {
	Login  string
	Name   string
	Email  string
	Phone  string
	Phone2 string
}

// Manages the users that submit responses.
type UserService struct {
	users  store.Datastorer[models.User]
	logger *zap.Logger
	now    func() time.Time
}

func NewUserService(users store.Datastorer[models.User], logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, logger: logger, now: time.Now}
}

// Create validates and stores a user with a freshly generated password,
// which is returned once in clear text.
func (s *UserService) Create(ctx context.Context, in NewUser) (*models.User, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = cleanPhone(in.Phone)
	in.Phone2 = cleanPhone(in.Phone2)
	if in.Login == "" {
		in.Login = SuggestLogin(in.Name)
	}
	in.Login = strings.ToLower(strings.TrimSpace(in.Login))

	if err := validateUser(in); err != nil {
		return nil, "", err
	}

	password, err := RandomPassword(generatedPassword)
	if err != nil {
		return nil, "", fault.NewInternalError("generate password", err)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fault.NewInternalError("hash password", err)
	}

	created, err := s.users.Create(ctx, UserDTO{
		Login:          in.Login,
		Name:           in.Name,
		Email:          in.Email,
		Phone:          in.Phone,
		Phone2:         in.Phone2,
		PasswordDigest: string(digest),
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, fault.ErrUniqueViolation) {
			return nil, "", fault.ValidationFailed(fault.Field("login", "has already been taken"))
		}
		return nil, "", err
	}

	user := created.(*models.User)
	s.logger.Info("user created", zap.Int("user_id", user.ID), zap.String("login", user.Login))
	return user, password, nil
}

// ByLogin finds a user by login.
func (s *UserService) ByLogin(ctx context.Context, login string) (*models.User, error) {
	u, err := s.users.Get(ctx, "SELECT "+userColumns+" FROM users WHERE login = ?", strings.ToLower(strings.TrimSpace(login)))
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, fault.NewClientError(fmt.Sprintf("user %q not found", login), err)
		}
		return nil, err
	}
	return u, nil
}

// Delete removes a user. Users that own responses cannot be deleted.
func (s *UserService) Delete(ctx context.Context, id int) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.Int("user_id", id))
	return nil
}

// CheckPassword reports whether password matches the user's digest.
func (s *UserService) CheckPassword(u *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordDigest), []byte(password)) == nil
}

func validateUser(in NewUser) error {
	var errs []error
	if in.Name == "" {
		errs = append(errs, fault.Field("name", "is required"))
	}
	if !loginPattern.MatchString(in.Login) {
		errs = append(errs, fault.Field("login", "can only contain letters, numbers, or '.'"))
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			errs = append(errs, fault.Field("email", "is invalid"))
		}
	}
	phones := []struct{ field, value string }{{"phone", in.Phone}, {"phone2", in.Phone2}}
	for _, p := range phones {
		if p.value != "" && len(nonDigits.ReplaceAllString(p.value, "")) < minPhoneDigits {
			errs = append(errs, fault.Field(p.field, "must be at least 9 digits"))
		}
	}
	return fault.ValidationFailed(errs...)
}

func cleanPhone(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(p)
}

// SuggestLogin proposes a login for a display name: first initial plus last
// name for a person's name, otherwise the name stripped of odd characters.
// At most 10 characters, lower case.
func SuggestLogin(name string) string {
	var l string
	if m := personName.FindStringSubmatch(name); m != nil {
		l = m[1][:1] + nonLetters.ReplaceAllString(m[2], "")
	} else {
		l = nonLoginChars.ReplaceAllString(name, "")
	}
	if len(l) > 10 {
		l = l[:10]
	}
	return strings.ToLower(l)
}

// RandomPassword draws size characters from passwordCharset.
func RandomPassword(size int) (string, error) {
	limit := big.NewInt(int64(len(passwordCharset)))
	b := make([]byte, size)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = passwordCharset[n.Int64()]
	}
	return string(b), nil
}

// VCard renders the user as a vCard 3.0 contact.
func VCard(u *models.User) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\nVERSION:3.0\nFN:" + u.Name + "\n")
	if u.Email != "" {
		b.WriteString("EMAIL:" + u.Email + "\n")
	}
	if u.Phone != "" {
		b.WriteString("TEL;TYPE=CELL:" + u.Phone + "\n")
	}
	if u.Phone2 != "" {
		b.WriteString("TEL;TYPE=CELL:" + u.Phone2 + "\n")
	}
	b.WriteString("END:VCARD")
	return b.String()
}
