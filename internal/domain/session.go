// Package domain contains core domain types for the FinChat application.
package domain

import (
	"time"
)

// Turn is one user message paired with the reply it received.
type Turn struct {
	User      string    `json:"user"`
	Bot       string    `json:"bot"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a read-only summary of a session's memory.
type Snapshot struct {
	Preferences  map[string]Value `json:"preferences"`
	HistoryCount int              `json:"historyCount"`
}

// RecentTurns returns the last n turns of history, oldest first.
func RecentTurns(history []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}
