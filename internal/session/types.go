package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session doesn't exist.
	ErrNotFound = errors.New("research session not found")

	// ErrNotCompleted is returned when a result is requested before the
	// session has completed. Callers receive it wrapped with the current
	// status.
	ErrNotCompleted = errors.New("research session is not completed")

	// ErrTooManySessions is returned when the concurrency ceiling would be
	// exceeded by admitting another run.
	ErrTooManySessions = errors.New("maximum concurrent research sessions reached")
)

// Status is the caller-facing session state. Transitions are monotonic: once
// a terminal status is set it is never overwritten.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Session is the caller-facing record of one research run.
type Session struct {
	ID           string     `json:"session_id"`
	Topic        string     `json:"topic"`
	Status       Status     `json:"status"`
	Progress     string     `json:"progress,omitempty"`
	Result       string     `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ReviewCycles int        `json:"review_cycles"`
}
