package api

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 5 * time.Second

// Health handles GET /health. It always succeeds.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports the state of the memory backend and any other registered
// dependency.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{"status": "ok", "checks": checks}
	statusCode := http.StatusOK

	if err := h.chat.Ping(ctx); err != nil {
		h.logger.Error("Readiness check failed", "dependency", "memory", "error", err)
		checks["memory"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["memory"] = "ok"
	}
	for name, check := range h.opts.Checks {
		if err := check(ctx); err != nil {
			h.logger.Error("Readiness check failed", "dependency", name, "error", err)
			checks[name] = "unreachable"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	if statusCode != http.StatusOK {
		status["status"] = "degraded"
	}

	JSON(w, statusCode, status)
}
