// Package shared provides small helpers used by more than one storage package.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

var (
	conflictMarkers = []string{"SQLITE_BUSY", "database is locked", "SQLITE_LOCKED"}
	readOnlyMarkers = []string{"SQLITE_READONLY", "attempt to write a readonly database", "query_only"}
)

// IsSQLiteConflictError reports whether err is a lock conflict that usually
// clears on retry.
func IsSQLiteConflictError(err error) bool {
	return containsAny(err, conflictMarkers)
}

// IsSQLiteReadOnlyError reports whether err was raised because a statement
// tried to write through a read-only connection.
func IsSQLiteReadOnlyError(err error) bool {
	return containsAny(err, readOnlyMarkers)
}

func containsAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
