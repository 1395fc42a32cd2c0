// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/adagent/internal/domain"
)

// ErrNotFound is returned when a session record does not exist.
var ErrNotFound = errors.New("store: session not found")

// Repository persists conversation metadata. Transcripts are never stored.
type Repository interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, session *domain.ChatSession) error

	// GetSession retrieves a session by its session ID. Returns nil, nil when
	// the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// SetInitStatus records the outcome of remote session initialization.
	SetInitStatus(ctx context.Context, sessionID string, status domain.InitStatus, detail string) error

	// TouchSession records activity and the current transcript length.
	TouchSession(ctx context.Context, sessionID string, turnCount int, at time.Time) error

	// CloseSession marks a session as torn down.
	CloseSession(ctx context.Context, sessionID string, at time.Time) error

	// GetIdleSessions retrieves open sessions inactive for longer than ttl.
	GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error)

	// CountOpenSessions returns the number of sessions not yet closed.
	CountOpenSessions(ctx context.Context) (int, error)

	// CleanupClosedSessions removes records closed more than olderThan ago.
	CleanupClosedSessions(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
