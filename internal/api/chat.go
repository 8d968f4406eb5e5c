package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/finchat/internal/agent"
	"github.com/ashureev/finchat/internal/chat"
	"github.com/ashureev/finchat/internal/convlog"
	"github.com/ashureev/finchat/internal/domain"
	"github.com/ashureev/finchat/internal/identity"
	"github.com/go-chi/chi/v5"
)

// retryAfter is advertised on retryable agent failures.
const retryAfter = 5 * time.Second

// RememberRequest is the body of POST /remember.
type RememberRequest struct {
	SessionID string       `json:"session_id"`
	Key       string       `json:"key"`
	Value     domain.Value `json:"value"`
}

// RememberResponse is the body returned by POST /remember.
type RememberResponse struct {
	OK     bool            `json:"ok"`
	Memory domain.Snapshot `json:"memory"`
}

// Chat handles POST /chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.SessionID = sessionOr(r, req.SessionID)
	req.Channel = convlog.ChannelHTTP

	resp, err := h.chat.HandleMessage(r.Context(), req)
	if err != nil {
		status, msg := chatFailure(err)
		if status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		}
		Error(w, status, msg)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Remember handles POST /remember.
func (h *Handler) Remember(w http.ResponseWriter, r *http.Request) {
	var req RememberRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req.SessionID = sessionOr(r, req.SessionID)
	snap, err := h.chat.Remember(r.Context(), req.SessionID, req.Key, req.Value)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidRequest) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to store preference", "session_id", req.SessionID, "key", req.Key, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, RememberResponse{OK: true, Memory: snap})
}

// Memory handles GET /memory/{session_id}, and GET /memory for the
// caller's cookie session.
func (h *Handler) Memory(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionOr(r, chi.URLParam(r, "session_id"))
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	snap, err := h.chat.Memory(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to load memory", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, snap)
}

// sessionOr returns explicit, or the anonymous cookie session when explicit
// is empty.
func sessionOr(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return identity.SessionIDFromContext(r.Context())
}

// chatFailure maps a HandleMessage error onto an HTTP status and message.
func chatFailure(err error) (int, string) {
	if errors.Is(err, chat.ErrInvalidRequest) {
		return http.StatusBadRequest, err.Error()
	}
	switch agent.KindOf(err) {
	case agent.KindConfiguration:
		return http.StatusInternalServerError, "Agent failed to initialize: " + err.Error()
	case agent.KindTimeout:
		return http.StatusGatewayTimeout, "Chat error: " + err.Error()
	}
	if agent.IsRetryable(err) {
		return http.StatusServiceUnavailable, "Chat error: " + err.Error()
	}
	return http.StatusInternalServerError, "Chat error: " + err.Error()
}
