package models

import "time"

type User struct {
	ID             int       `db:"id" json:"id"`
	Login          string    `db:"login" json:"login"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	Phone          string    `db:"phone" json:"phone"`
	Phone2         string    `db:"phone2" json:"phone2"`
	PasswordDigest string    `db:"password_digest" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

func (u *User) CanGetSMS() bool   { return u.Phone != "" || u.Phone2 != "" }
func (u *User) CanGetEmail() bool { return u.Email != "" }
