package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/finchat/internal/domain"
	"github.com/ashureev/finchat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite so that session memory
// survives restarts. Nothing is ever deleted.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		session_id TEXT NOT NULL,
		pref_key TEXT NOT NULL,
		value_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, pref_key)
	);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_text TEXT NOT NULL,
		bot_text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Preferences returns the session's preferences, registering the session on
// first reference.
func (s *SQLiteStore) Preferences(ctx context.Context, sessionID string) (map[string]domain.Value, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.loadPreferences(ctx, sessionID)
}

func (s *SQLiteStore) loadPreferences(ctx context.Context, sessionID string) (map[string]domain.Value, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pref_key, value_json FROM preferences WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close preference rows", "error", closeErr)
		}
	}()

	prefs := make(map[string]domain.Value)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan preference row: %w", err)
		}
		var v domain.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode preference %q: %w", key, err)
		}
		prefs[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return prefs, nil
}

// SetPreference inserts or overwrites a preference key.
func (s *SQLiteStore) SetPreference(ctx context.Context, sessionID, key string, value domain.Value) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %q: %w", key, err)
	}
	if err := s.touch(ctx, sessionID); err != nil {
		return err
	}

	query := `
	INSERT INTO preferences (session_id, pref_key, value_json, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id, pref_key) DO UPDATE SET
		value_json = excluded.value_json,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "set preference", func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, key, string(raw), time.Now().Unix())
		return err
	})
}

// AddTurn appends a turn to the session's history.
func (s *SQLiteStore) AddTurn(ctx context.Context, sessionID, user, bot string) error {
	if err := s.touch(ctx, sessionID); err != nil {
		return err
	}
	query := `INSERT INTO turns (session_id, user_text, bot_text, created_at) VALUES (?, ?, ?, ?)`
	return s.withRetry(ctx, "add turn", func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, user, bot, time.Now().UnixMilli())
		return err
	})
}

// History returns the session's turns in insertion order.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_text, bot_text, created_at FROM turns WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	history := []domain.Turn{}
	for rows.Next() {
		var turn domain.Turn
		var createdAt int64
		if err := rows.Scan(&turn.User, &turn.Bot, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.CreatedAt = time.UnixMilli(createdAt)
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return history, nil
}

// Snapshot summarizes the session.
func (s *SQLiteStore) Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	prefs, err := s.Preferences(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID)
	if err := row.Scan(&count); err != nil {
		return domain.Snapshot{}, fmt.Errorf("count turns: %w", err)
	}

	return domain.Snapshot{Preferences: prefs, HistoryCount: count}, nil
}

// touch registers a session on first reference.
func (s *SQLiteStore) touch(ctx context.Context, sessionID string) error {
	return s.withRetry(ctx, "register session", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (session_id, created_at) VALUES (?, ?)`,
			sessionID, time.Now().Unix())
		return err
	})
}

// withRetry runs a write, retrying with exponential backoff while SQLite
// reports a lock conflict.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("SQLite write busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Repository = (*SQLiteStore)(nil)
