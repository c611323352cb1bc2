package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"daypack.app/internal/auth"
	"daypack.app/internal/ids"
)

// Store is a Postgres-backed auth.UserStore.
type Store struct {
	db *sql.DB
}

var _ auth.UserStore = (*Store)(nil)

// Open connects with tuned pool defaults; adjust under load tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	if u == nil || strings.TrimSpace(u.Username) == "" {
		return auth.ErrInvalidInput
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = "active"
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, username, email, name, staff, password_hash, status, created_at, updated_at)
		values ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Username, u.Email, u.Name, u.Staff, u.PasswordHash, u.Status, u.CreatedAt, u.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return auth.ErrAlreadyExists
	}
	return err
}

func (s *Store) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, username, email, name, staff, password_hash, status, created_at, updated_at
		from users where id = $1
	`, id))
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, username, email, name, staff, password_hash, status, created_at, updated_at
		from users where username = lower($1)
	`, strings.TrimSpace(username)))
}

func (s *Store) scanOne(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.Staff, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
