// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting learner and session data.
type Repository interface {
	// GetLearner retrieves a learner by ID. Returns (nil, nil) when the
	// learner does not exist.
	GetLearner(ctx context.Context, learnerID string) (*domain.Learner, error)

	// UpsertLearner creates or updates a learner record.
	UpsertLearner(ctx context.Context, learner *domain.Learner) error

	// UpdateLastSeen updates the last_seen_at timestamp for a learner.
	UpdateLastSeen(ctx context.Context, learnerID string, lastSeen time.Time) error

	// GetSession retrieves a session with its full turn and phase state.
	// Returns ErrNotFound when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListLearnerSessions returns the learner's sessions, newest first.
	ListLearnerSessions(ctx context.Context, learnerID string) ([]*domain.Session, error)

	// GetStaleSessionIDs returns sessions idle longer than the TTL.
	GetStaleSessionIDs(ctx context.Context, ttl time.Duration) ([]string, error)

	// CleanupStaleSessions removes sessions idle longer than the TTL and
	// returns how many were deleted.
	CleanupStaleSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
