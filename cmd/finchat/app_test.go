package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ashureev/finchat/internal/agent"
	"github.com/ashureev/finchat/internal/config"
	"github.com/ashureev/finchat/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppWithoutCredentialsFailsPerRequest(t *testing.T) {
	cfg := config.Default()
	cfg.TxDB.DSN = filepath.Join(t.TempDir(), "transactions.db")
	cfg.TxDB.Init = true
	cfg.LLM.GoogleAPIKey = ""

	deps, err := newApp(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer deps.Close()

	require.Contains(t, deps.checks, "transactions_db")
	assert.NoError(t, deps.checks["transactions_db"](context.Background()))

	_, err = deps.builder.Build(context.Background())
	require.Error(t, err)
	assert.Equal(t, agent.KindConfiguration, agent.KindOf(err))
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
}

func TestNewAppSQLiteMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Memory.Backend = config.MemoryBackendSQLite
	cfg.Memory.DBPath = filepath.Join(t.TempDir(), "memory.db")
	cfg.TxDB.DSN = filepath.Join(t.TempDir(), "transactions.db")

	deps, err := newApp(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer deps.Close()

	assert.NoError(t, deps.repo.Ping(context.Background()))
}
