package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/finchat/internal/agent"
	"github.com/ashureev/finchat/internal/api"
	"github.com/ashureev/finchat/internal/config"
	"github.com/ashureev/finchat/internal/convlog"
	"github.com/ashureev/finchat/internal/llm"
	"github.com/ashureev/finchat/internal/store"
	"github.com/ashureev/finchat/internal/txdb"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	repo       store.Repository
	builder    *agent.CachedBuilder
	convLogger convlog.Logger
	checks     map[string]api.Check
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, checks: make(map[string]api.Check)}

	repo, err := store.New(cfg.Memory.Backend, cfg.Memory.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize memory store: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)
	logger.Info("Memory store ready", "backend", cfg.Memory.Backend)

	convLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		MaxOpenFiles:  cfg.ConversationLog.MaxOpenFiles,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize conversation logger: %w", err)
	}
	a.convLogger = convLogger
	a.closers = append(a.closers, convLogger.Close)

	if cfg.Agent.Addr != "" {
		a.builder = a.remoteBuilder()
	} else {
		a.builder = a.sqlBuilder(ctx)
	}
	a.closers = append(a.closers, a.builder.Close)
	return a, nil
}

// remoteBuilder connects lazily to the gRPC agent so a remote agent that is
// down at startup is retried on the next request.
func (a *app) remoteBuilder() *agent.CachedBuilder {
	a.logger.Info("Using remote agent", "address", a.cfg.Agent.Addr)
	builder := agent.NewCachedBuilder(agent.BuilderFunc(func(ctx context.Context) (agent.Agent, error) {
		return agent.NewGrpcClient(ctx, agent.GrpcClientConfig{Address: a.cfg.Agent.Addr}, a.logger)
	}))
	a.checks["agent"] = func(ctx context.Context) error {
		built, err := builder.Build(ctx)
		if err != nil {
			return err
		}
		client, ok := built.(*agent.GrpcClient)
		if !ok {
			return nil
		}
		return client.Health(ctx)
	}
	return builder
}

// sqlBuilder opens the transactions database and prepares the in-process
// SQL agent. A database that cannot be opened is reported per request as a
// configuration failure.
func (a *app) sqlBuilder(ctx context.Context) *agent.CachedBuilder {
	var db agent.Database
	tx, err := txdb.Open(a.cfg.TxDB.Driver, a.cfg.TxDB.DSN)
	if err != nil {
		a.logger.Error("Transactions database unavailable", "driver", a.cfg.TxDB.Driver, "error", err)
	} else {
		a.closers = append(a.closers, tx.Close)
		if a.cfg.TxDB.Init {
			if err := tx.EnsureSchema(ctx); err != nil {
				a.logger.Error("Failed to create transactions schema", "error", err)
			}
		}
		db = tx
		a.checks["transactions_db"] = tx.Ping
	}

	llmCfg := a.cfg.LLM
	primary := llm.Config{
		Provider: llmCfg.Provider,
		Model:    llmCfg.Model,
		APIKey:   llmCfg.APIKey(llmCfg.Provider),
		BaseURL:  llmCfg.OpenAIBaseURL,
	}
	var fallback *llm.Config
	if llmCfg.FallbackProvider != "" {
		fallback = &llm.Config{
			Provider: llmCfg.FallbackProvider,
			Model:    llmCfg.FallbackModel,
			APIKey:   llmCfg.APIKey(llmCfg.FallbackProvider),
			BaseURL:  llmCfg.OpenAIBaseURL,
		}
	}

	return agent.NewCachedBuilder(agent.NewSQLAgentBuilder(agent.SQLAgentConfig{
		Primary:  primary,
		Fallback: fallback,
		Options: agent.SQLAgentOptions{
			MaxToolCalls: a.cfg.Agent.MaxToolCalls,
			MaxTokens:    llmCfg.MaxTokens,
		},
	}, db, a.logger))
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("Failed to release resources", "error", err)
	}
}
