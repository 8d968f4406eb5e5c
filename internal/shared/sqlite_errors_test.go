package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSQLiteConflictError(t *testing.T) {
	assert.False(t, IsSQLiteConflictError(nil))
	assert.True(t, IsSQLiteConflictError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsSQLiteConflictError(fmt.Errorf("add turn: %w", errors.New("database is locked"))))
	assert.False(t, IsSQLiteConflictError(errors.New("no such table: turns")))
}

func TestIsSQLiteReadOnlyError(t *testing.T) {
	assert.False(t, IsSQLiteReadOnlyError(nil))
	assert.True(t, IsSQLiteReadOnlyError(errors.New("attempt to write a readonly database (8)")))
	assert.False(t, IsSQLiteReadOnlyError(errors.New("SQLITE_BUSY")))
}
