package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is a persisted board. SnapshotJSON holds the full board state.
type Session struct {
	ID           string
	Title        string
	SnapshotJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Generation records one streamed generation run.
type Generation struct {
	ID        string
	SessionID string
	Feature   string
	Model     string
	Prompt    string
	ItemCount int
	Status    string // "completed", "stopped", "failed"
	Error     string
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
