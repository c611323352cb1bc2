package auth

import "time"

// User is a dashboard account.
type User struct {
	ID           string
	Username     string
	Email        string
	Name         string
	Staff        bool
	PasswordHash string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionClaims is the verified content of a session cookie.
type SessionClaims struct {
	UserID    string
	SessionID string
	Staff     bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}
