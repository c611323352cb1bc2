package tasks

import (
	"errors"
	"time"
)

// Task is the minimal shape the reference backend exposes so the
// authenticated-request pipeline has a real mutating surface to exercise.
type Task struct {
	ID             string     `json:"id"`
	UserID         string     `json:"-"`
	Title          string     `json:"title"`
	Notes          string     `json:"notes,omitempty"`
	Done           bool       `json:"done"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	IdempotencyKey string     `json:"-"`
}

var (
	ErrNotFound     = errors.New("task not found")
	ErrInvalidTitle = errors.New("title is required")
)
