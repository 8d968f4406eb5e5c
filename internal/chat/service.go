// Package chat implements the conversation orchestrator: it folds session
// memory into a prompt, asks the agent, and records the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/finchat/internal/agent"
	"github.com/ashureev/finchat/internal/convlog"
	"github.com/ashureev/finchat/internal/domain"
	"github.com/ashureev/finchat/internal/store"
)

// Defaults for Config.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultHistoryWindow = 6
)

// ErrInvalidRequest is wrapped by validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one chat message. Name and Currency, when set, are stored as
// preferences before the prompt is composed.
type Request struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Name      string `json:"name,omitempty"`
	Currency  string `json:"currency,omitempty"`

	// Channel tags conversation log events.
	Channel string `json:"-"`
}

// Response is the reply plus the session's memory after the turn.
type Response struct {
	Reply  string          `json:"reply"`
	Memory domain.Snapshot `json:"memory"`
}

// Config tunes a Service.
type Config struct {
	Timeout       time.Duration
	HistoryWindow int
}

// Service orchestrates chat turns over a memory repository and an agent.
type Service struct {
	repo       store.Repository
	builder    agent.Builder
	convLogger convlog.Logger
	cfg        Config
	logger     *slog.Logger
}

// NewService creates a Service. A nil convLogger disables conversation logs.
func NewService(repo store.Repository, builder agent.Builder, cfg Config, convLogger convlog.Logger, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if convLogger == nil {
		convLogger = convlog.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		builder:    builder,
		convLogger: convLogger,
		cfg:        cfg,
		logger:     logger,
	}
}

// HandleMessage runs one conversational turn. Agent failures are returned
// as *agent.Error; validation failures wrap ErrInvalidRequest.
func (s *Service) HandleMessage(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}

	s.logEvent(req, "inbound", convlog.EventUserMessage, req.Message, nil)

	if req.Name != "" {
		if err := s.repo.SetPreference(ctx, req.SessionID, PrefName, domain.StringValue(req.Name)); err != nil {
			return nil, fmt.Errorf("store name: %w", err)
		}
	}
	if req.Currency != "" {
		if err := s.repo.SetPreference(ctx, req.SessionID, PrefCurrency, domain.StringValue(req.Currency)); err != nil {
			return nil, fmt.Errorf("store currency: %w", err)
		}
	}

	a, err := s.builder.Build(ctx)
	if err != nil {
		if agent.KindOf(err) == "" {
			err = agent.ConfigurationError(err)
		}
		s.logger.Error("Agent failed to initialize", "session_id", req.SessionID, "error", err)
		s.logEvent(req, "internal", convlog.EventError, "", err)
		return nil, err
	}

	prefs, err := s.repo.Preferences(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	history, err := s.repo.History(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	prompt := BuildPrompt(prefs, domain.RecentTurns(history, s.cfg.HistoryWindow), req.Message)

	reply, err := s.invoke(ctx, a, prompt)
	if err != nil {
		s.logger.Warn("Agent invocation failed",
			"session_id", req.SessionID,
			"kind", agent.KindOf(err),
			"retryable", agent.IsRetryable(err),
			"error", err,
		)
		s.logEvent(req, "internal", convlog.EventError, "", err)
		return nil, err
	}

	if err := s.repo.AddTurn(ctx, req.SessionID, req.Message, reply); err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}
	s.logEvent(req, "outbound", convlog.EventBotReply, reply, nil)

	snap, err := s.repo.Snapshot(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &Response{Reply: reply, Memory: snap}, nil
}

// invoke calls the agent under the configured timeout and normalizes its
// result. Every failure comes back as *agent.Error.
func (s *Service) invoke(ctx context.Context, a agent.Agent, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, err := a.Invoke(callCtx, prompt)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && agent.KindOf(err) != agent.KindTimeout {
			return "", agent.TimeoutError(fmt.Errorf("agent did not answer within %s: %w", s.cfg.Timeout, err))
		}
		if agent.KindOf(err) == "" {
			return "", agent.InvocationError(err, false)
		}
		return "", err
	}
	s.logger.Debug("Agent answered", "duration", time.Since(start))
	return result.Reply()
}

// Remember stores one preference and returns the updated snapshot.
func (s *Service) Remember(ctx context.Context, sessionID, key string, value domain.Value) (domain.Snapshot, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	if key == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	if err := s.repo.SetPreference(ctx, sessionID, key, value); err != nil {
		return domain.Snapshot{}, fmt.Errorf("store preference: %w", err)
	}
	s.convLogger.Log(convlog.Event{
		SessionID: sessionID,
		Channel:   convlog.ChannelHTTP,
		Direction: "inbound",
		EventType: convlog.EventRemember,
		Content:   key + "=" + value.Text(),
	})
	return s.Memory(ctx, sessionID)
}

// Memory returns the snapshot for sessionID. Unknown sessions yield an
// empty snapshot.
func (s *Service) Memory(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	snap, err := s.repo.Snapshot(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// Ping checks the memory backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) logEvent(req Request, direction, eventType, content string, err error) {
	event := convlog.Event{
		SessionID: req.SessionID,
		Channel:   req.Channel,
		Direction: direction,
		EventType: eventType,
		Content:   content,
	}
	if event.Channel == "" {
		event.Channel = convlog.ChannelHTTP
	}
	if err != nil {
		event.Error = err.Error()
		event.Metadata = map[string]any{"kind": string(agent.KindOf(err))}
	}
	s.convLogger.Log(event)
}
