package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"daypack.app/internal/ids"
	"daypack.app/internal/tasks"
)

// TaskStore is a Postgres-backed tasks.Service.
type TaskStore struct {
	db *sql.DB
}

var _ tasks.Service = (*TaskStore)(nil)

// NewTaskStore wraps an existing handle (used by tests with sqlmock).
func NewTaskStore(db *sql.DB) *TaskStore { return &TaskStore{db: db} }

// Tasks returns a task store sharing the user store's pool.
func (s *Store) Tasks() *TaskStore { return &TaskStore{db: s.db} }

const taskColumns = `id, user_id, title, notes, done, created_at, done_at, idempotency_key`

func (ts *TaskStore) Create(ctx context.Context, userID, title, notes, idemKey string) (tasks.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return tasks.Task{}, tasks.ErrInvalidTitle
	}
	if idemKey != "" {
		t, err := ts.findByIdemKey(ctx, userID, idemKey)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, tasks.ErrNotFound) {
			return tasks.Task{}, err
		}
	}
	t := tasks.Task{
		ID:             ids.New(),
		UserID:         userID,
		Title:          title,
		Notes:          notes,
		CreatedAt:      time.Now().UTC(),
		IdempotencyKey: idemKey,
	}
	_, err := ts.db.ExecContext(ctx, `
		insert into tasks(id, user_id, title, notes, done, created_at, idempotency_key)
		values ($1, $2, $3, $4, false, $5, $6)
	`, t.ID, t.UserID, t.Title, t.Notes, t.CreatedAt, t.IdempotencyKey)
	if err != nil && idemKey != "" && strings.Contains(err.Error(), "duplicate key") {
		// A concurrent retry with the same key won the insert.
		return ts.findByIdemKey(ctx, userID, idemKey)
	}
	if err != nil {
		return tasks.Task{}, err
	}
	return t, nil
}

func (ts *TaskStore) Complete(ctx context.Context, userID, taskID string) (tasks.Task, error) {
	return scanTask(ts.db.QueryRowContext(ctx, `
		update tasks set done = true, done_at = coalesce(done_at, now())
		where id = $1 and user_id = $2
		returning `+taskColumns,
		taskID, userID))
}

func (ts *TaskStore) List(ctx context.Context, userID string) ([]tasks.Task, error) {
	rows, err := ts.db.QueryContext(ctx, `
		select `+taskColumns+`
		from tasks where user_id = $1 order by created_at asc, id asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []tasks.Task{}
	for rows.Next() {
		var (
			t      tasks.Task
			doneAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Notes, &t.Done, &t.CreatedAt, &doneAt, &t.IdempotencyKey); err != nil {
			return nil, err
		}
		if doneAt.Valid {
			at := doneAt.Time
			t.CompletedAt = &at
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (ts *TaskStore) findByIdemKey(ctx context.Context, userID, idemKey string) (tasks.Task, error) {
	return scanTask(ts.db.QueryRowContext(ctx, `
		select `+taskColumns+`
		from tasks where user_id = $1 and idempotency_key = $2
	`, userID, idemKey))
}

func scanTask(row *sql.Row) (tasks.Task, error) {
	var (
		t      tasks.Task
		doneAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Notes, &t.Done, &t.CreatedAt, &doneAt, &t.IdempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.Task{}, tasks.ErrNotFound
	}
	if err != nil {
		return tasks.Task{}, err
	}
	if doneAt.Valid {
		at := doneAt.Time
		t.CompletedAt = &at
	}
	return t, nil
}
