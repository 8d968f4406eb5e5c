package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"

	"github.com/ashureev/finchat/internal/chat"
	"github.com/ashureev/finchat/internal/convlog"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// socketError is sent in place of a chat response when a turn fails.
type socketError struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ChatSocket handles GET /ws/chat. Each text frame is a chat request; each
// reply frame is a chat response or a socketError. Turns are handled one at
// a time per connection.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client")
			} else {
				h.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var req chat.Request
		if err := json.Unmarshal(data, &req); err != nil {
			if err := wsjson.Write(ctx, ws, socketError{Error: "invalid request body: " + err.Error(), Status: http.StatusBadRequest}); err != nil {
				return
			}
			continue
		}
		req.SessionID = sessionOr(r, req.SessionID)
		req.Channel = convlog.ChannelWebSocket

		var reply any
		resp, err := h.chat.HandleMessage(ctx, req)
		if err != nil {
			status, msg := chatFailure(err)
			reply = socketError{
				Error:     msg,
				Status:    status,
				Retryable: status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout,
			}
		} else {
			reply = resp
		}
		if err := wsjson.Write(ctx, ws, reply); err != nil {
			h.logger.Warn("WebSocket write error", "session_id", req.SessionID, "error", err)
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin) {
		return true
	}
	// Same-host pages are always allowed.
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}
