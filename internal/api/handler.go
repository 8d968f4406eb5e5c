// Package api provides HTTP handlers for the FinChat API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/finchat/internal/chat"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Options configures a Handler.
type Options struct {
	// AllowedOrigins is matched against WebSocket Origin headers.
	AllowedOrigins []string
	// RateLimit wraps the chat and memory-writing routes when set.
	RateLimit func(http.Handler) http.Handler
	// Checks are run by /ready, keyed by dependency name.
	Checks map[string]Check
	Logger *slog.Logger
}

// Handler serves the chat API.
type Handler struct {
	chat   *chat.Service
	opts   Options
	logger *slog.Logger
}

// NewHandler creates a Handler over svc.
func NewHandler(svc *chat.Service, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{chat: svc, opts: opts, logger: logger}
}

// RegisterRoutes registers the API routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/memory", h.Memory)
	r.Get("/memory/{session_id}", h.Memory)

	r.Group(func(r chi.Router) {
		if h.opts.RateLimit != nil {
			r.Use(h.opts.RateLimit)
		}
		r.Post("/chat", h.Chat)
		r.Post("/remember", h.Remember)
		r.Get("/ws/chat", h.ChatSocket)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
