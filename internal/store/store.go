// Package store provides session memory persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/finchat/internal/domain"
)

// Repository defines the interface for per-session memory: preferences and
// the conversation transcript. Unknown sessions are never an error; they read
// as empty.
type Repository interface {
	// Preferences returns the session's preference mapping, creating an empty
	// one if the session has not been seen.
	Preferences(ctx context.Context, sessionID string) (map[string]domain.Value, error)

	// SetPreference inserts or overwrites one preference key.
	SetPreference(ctx context.Context, sessionID, key string, value domain.Value) error

	// AddTurn appends a turn to the session's history.
	AddTurn(ctx context.Context, sessionID, user, bot string) error

	// History returns the full history in insertion order.
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)

	// Snapshot summarizes the session's preferences and history length.
	Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)
