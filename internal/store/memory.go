package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/finchat/internal/domain"
)

// MemoryStore implements Repository in process memory. It has no capacity
// limit and never evicts; everything is lost when the process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]map[string]domain.Value
	turns map[string][]domain.Turn
	now   func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		prefs: make(map[string]map[string]domain.Value),
		turns: make(map[string][]domain.Turn),
		now:   time.Now,
	}
}

// New opens the repository for the named backend.
func New(backend, dbPath string) (Repository, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		repo, err := NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
}

// Preferences returns a copy of the session's preferences.
func (s *MemoryStore) Preferences(_ context.Context, sessionID string) (map[string]domain.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.prefsLocked(sessionID)), nil
}

// SetPreference inserts or overwrites a preference key.
func (s *MemoryStore) SetPreference(_ context.Context, sessionID, key string, value domain.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefsLocked(sessionID)[key] = value
	return nil
}

// AddTurn appends a turn to the session's history.
func (s *MemoryStore) AddTurn(_ context.Context, sessionID, user, bot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], domain.Turn{
		User:      user,
		Bot:       bot,
		CreatedAt: s.now(),
	})
	return nil
}

// History returns a copy of the session's turns.
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.turns[sessionID]
	if history == nil {
		return []domain.Turn{}, nil
	}
	return slices.Clone(history), nil
}

// Snapshot summarizes the session.
func (s *MemoryStore) Snapshot(_ context.Context, sessionID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Snapshot{
		Preferences:  maps.Clone(s.prefsLocked(sessionID)),
		HistoryCount: len(s.turns[sessionID]),
	}, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// prefsLocked returns the session's preference map, creating it on first
// reference. Callers must hold the write lock.
func (s *MemoryStore) prefsLocked(sessionID string) map[string]domain.Value {
	p, ok := s.prefs[sessionID]
	if !ok {
		p = make(map[string]domain.Value)
		s.prefs[sessionID] = p
	}
	return p
}

var _ Repository = (*MemoryStore)(nil)
