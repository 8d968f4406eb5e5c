//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/finchat/internal/agent"
	"github.com/ashureev/finchat/internal/chat"
	"github.com/ashureev/finchat/internal/identity"
	"github.com/ashureev/finchat/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	reply func(prompt string) (agent.Result, error)
}

func (s stubAgent) Invoke(_ context.Context, prompt string) (agent.Result, error) {
	return s.reply(prompt)
}

func echo() agent.Builder {
	return agent.Static(stubAgent{reply: func(prompt string) (agent.Result, error) {
		return agent.StructuredResult(map[string]any{"input": prompt, "output": "You spent ₹4,200 on Food."}), nil
	}})
}

func newTestServer(t *testing.T, builder agent.Builder, opts Options) (*httptest.Server, store.Repository) {
	t.Helper()
	repo := store.NewMemory()
	svc := chat.NewService(repo, builder, chat.Config{Timeout: time.Second}, nil, nil)
	r := chi.NewRouter()
	NewHandler(svc, opts).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	return resp, got
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	return resp, got
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"foo":"bar"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, echo(), Options{})

	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"status": "ok"}, body)
}

func TestReadyAllChecksPass(t *testing.T) {
	srv, _ := newTestServer(t, echo(), Options{Checks: map[string]Check{
		"transactions_db": func(context.Context) error { return nil },
	}})

	resp, body := get(t, srv.URL+"/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{
		"status": "ok",
		"checks": map[string]any{"api": "ok", "memory": "ok", "transactions_db": "ok"},
	}, body)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	srv, _ := newTestServer(t, echo(), Options{Checks: map[string]Check{
		"agent": func(context.Context) error { return errors.New("connection refused") },
	}})

	resp, body := get(t, srv.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"api": "ok", "memory": "ok", "agent": "unreachable"}, body["checks"])
}

func TestRememberThenMemoryRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, echo(), Options{})

	resp, body := post(t, srv.URL+"/remember", `{"session_id":"u1","key":"budget","value":{"food":5000,"tags":["monthly"]}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	resp, body = get(t, srv.URL+"/memory/u1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{
		"preferences":  map[string]any{"budget": map[string]any{"food": 5000.0, "tags": []any{"monthly"}}},
		"historyCount": 0.0,
	}, body)
}

func TestMemoryUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, echo(), Options{})

	resp, body := get(t, srv.URL+"/memory/nobody")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"preferences": map[string]any{}, "historyCount": 0.0}, body)
}

func TestChat(t *testing.T) {
	srv, _ := newTestServer(t, echo(), Options{})

	resp, body := post(t, srv.URL+"/chat", `{"session_id":"web-user","message":"What did I spend on Food?","name":"Asha","currency":"INR"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "You spent ₹4,200 on Food.", body["reply"])
	assert.Equal(t, map[string]any{
		"preferences":  map[string]any{"name": "Asha", "currency": "INR"},
		"historyCount": 1.0,
	}, body["memory"])
}

func TestChatFailures(t *testing.T) {
	failing := func(err error) agent.Builder {
		return agent.Static(stubAgent{reply: func(string) (agent.Result, error) { return agent.Result{}, err }})
	}
	cases := []struct {
		name       string
		builder    agent.Builder
		body       string
		status     int
		prefix     string
		retryAfter bool
	}{
		{
			name: "construction failure",
			builder: agent.BuilderFunc(func(context.Context) (agent.Agent, error) {
				return nil, errors.New("missing API key")
			}),
			body:   `{"session_id":"s","message":"hi"}`,
			status: http.StatusInternalServerError,
			prefix: "Agent failed to initialize: ",
		},
		{
			name:    "fatal invocation",
			builder: failing(errors.New("no such table: expenses")),
			body:    `{"session_id":"s","message":"hi"}`,
			status:  http.StatusInternalServerError,
			prefix:  "Chat error: ",
		},
		{
			name:       "transient invocation",
			builder:    failing(agent.InvocationError(errors.New("429 rate limited"), true)),
			body:       `{"session_id":"s","message":"hi"}`,
			status:     http.StatusServiceUnavailable,
			prefix:     "Chat error: ",
			retryAfter: true,
		},
		{
			name:       "timeout",
			builder:    failing(agent.TimeoutError(context.DeadlineExceeded)),
			body:       `{"session_id":"s","message":"hi"}`,
			status:     http.StatusGatewayTimeout,
			prefix:     "Chat error: ",
			retryAfter: true,
		},
		{
			name:    "missing message",
			builder: echo(),
			body:    `{"session_id":"s"}`,
			status:  http.StatusBadRequest,
			prefix:  "invalid request",
		},
		{
			name:    "malformed body",
			builder: echo(),
			body:    `{"session_id":`,
			status:  http.StatusBadRequest,
			prefix:  "invalid request body",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tc.builder, Options{})

			resp, body := post(t, srv.URL+"/chat", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			msg, _ := body["error"].(string)
			assert.True(t, strings.HasPrefix(msg, tc.prefix), "error %q should start with %q", msg, tc.prefix)
			assert.Equal(t, tc.retryAfter, resp.Header.Get("Retry-After") != "")
		})
	}
}

func TestChatRateLimited(t *testing.T) {
	calls := 0
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls > 1 {
				Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	srv, _ := newTestServer(t, echo(), Options{RateLimit: limit})

	resp, _ := post(t, srv.URL+"/chat", `{"session_id":"s","message":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = post(t, srv.URL+"/chat", `{"session_id":"s","message":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/memory/s")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not limited")
}

func TestChatSocket(t *testing.T) {
	srv, repo := newTestServer(t, echo(), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"session_id": "ws-user", "message": "Food spend?"}))
	var reply chat.Response
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "You spent ₹4,200 on Food.", reply.Reply)
	assert.Equal(t, 1, reply.Memory.HistoryCount)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"session_id": "ws-user"}))
	var failure socketError
	require.NoError(t, wsjson.Read(ctx, conn, &failure))
	assert.Equal(t, http.StatusBadRequest, failure.Status)

	history, err := repo.History(ctx, "ws-user")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestChatSocketRejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t, echo(), Options{AllowedOrigins: []string{"https://finchat.example"}})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatFallsBackToCookieSession(t *testing.T) {
	svc := chat.NewService(store.NewMemory(), echo(), chat.Config{}, nil, nil)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHandler(svc, Options{}).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	resp, err := client.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"message":"Food spend?"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/memory")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1.0, snap["historyCount"])
}
