package models

import "time"

// User is an account that can authenticate and exchange messages.
// IsOnline mirrors the presence registry; the row is the durable flag.
type User struct {
	ID           int       `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsOnline     bool      `db:"is_online" json:"is_online"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// PublicUser is the view of a user safe to return to other users.
type PublicUser struct {
	ID       int    `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Email    string `db:"email" json:"email"`
	IsOnline bool   `db:"is_online" json:"is_online"`
}
