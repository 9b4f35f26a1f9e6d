// Package session persists conversations and their resumable loop state.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no session has the requested id.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	// Save inserts s or replaces the stored copy. An empty ID is filled in.
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// List returns the most recently updated sessions first.
	List(ctx context.Context, limit int) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// NewID returns a new session id.
func NewID() string {
	return uuid.NewString()
}
