// ABOUTME: Tests for the MCP HTTP transport using httptest
// ABOUTME: Covers content negotiation, body limits, notification replies and the SSE stream

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-foundation/internal/auth"
	"github.com/2389/mcp-foundation/internal/jsonrpc"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *http.ServeMux) {
	t.Helper()
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = newTestDispatcher(t, DispatcherConfig{})
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s, mux
}

func post(mux http.Handler, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeReply(t *testing.T, rec *httptest.ResponseRecorder) rpcReply {
	t.Helper()
	var r rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return r
}

func TestNewServer_RequiresDispatcher(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestHandlePost_Request(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(mux, "application/json; charset=utf-8", `{"jsonrpc":"2.0","method":"add","params":{"a":2,"b":2},"id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"sum":4}`, toolText(t, decodeReply(t, rec)))
}

func TestHandlePost_WrongContentType(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	for _, ct := range []string{"", "text/plain", "application/x-www-form-urlencoded"} {
		rec := post(mux, ct, `{"jsonrpc":"2.0","method":"ping","id":1}`)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code, ct)
		r := decodeReply(t, rec)
		require.NotNil(t, r.Error)
		assert.Equal(t, jsonrpc.CodeParseError, r.Error.Code)
		assert.Equal(t, "null", string(r.ID))
	}
}

func TestHandlePost_Malformed(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(mux, "application/json", `{not json`)
	assert.Equal(t, http.StatusOK, rec.Code)
	r := decodeReply(t, rec)
	require.NotNil(t, r.Error)
	assert.Equal(t, jsonrpc.CodeParseError, r.Error.Code)
}

func TestHandlePost_TooLarge(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	big := `{"jsonrpc":"2.0","method":"ping","params":{"pad":"` + strings.Repeat("x", MaxRequestBodySize) + `"},"id":1}`
	rec := post(mux, "application/json", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, decodeReply(t, rec).Error.Code)
}

func TestHandlePost_NotificationAccepted(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(mux, "application/json", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHandleMCP_MethodNotAllowed(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPut, "/mcp", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST, GET, DELETE", rec.Header().Get("Allow"))
}

func postSession(mux http.Handler, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func initSession(t *testing.T, mux http.Handler) string {
	t.Helper()
	rec := postSession(mux, "", `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2025-06-18"},"id":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(SessionHeader)
	require.NotEmpty(t, id)
	return id
}

func TestHandlePost_InitializeStartsSession(t *testing.T) {
	s, mux := newTestServer(t, Config{})

	first := initSession(t, mux)
	second := initSession(t, mux)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, s.sessions.len())

	// other requests never start a session
	rec := postSession(mux, "", `{"jsonrpc":"2.0","method":"ping","id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(SessionHeader))

	// re-initializing inside a session keeps it
	rec = postSession(mux, first, `{"jsonrpc":"2.0","method":"initialize","id":2}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(SessionHeader))
	assert.Equal(t, 2, s.sessions.len())
}

func TestHandlePost_UnknownSession(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := postSession(mux, "no-such-session", `{"jsonrpc":"2.0","method":"ping","id":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDelete_EndsSession(t *testing.T) {
	s, mux := newTestServer(t, Config{})
	id := initSession(t, mux)

	del := func(sessionID string) int {
		req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
		if sessionID != "" {
			req.Header.Set(SessionHeader, sessionID)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, del(""))
	assert.Equal(t, http.StatusNoContent, del(id))
	assert.Equal(t, http.StatusNotFound, del(id))
	assert.Zero(t, s.sessions.len())

	rec := postSession(mux, id, `{"jsonrpc":"2.0","method":"ping","id":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePost_SessionOwnedByCaller(t *testing.T) {
	as := func(subject string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				who := r.Header.Get("X-Test-Subject")
				if who == "" {
					who = subject
				}
				ctx := auth.WithPrincipal(r.Context(), &auth.Principal{Subject: who, Method: auth.MethodBearer})
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		}
	}
	_, mux := newTestServer(t, Config{Middleware: as("alice")})
	id := initSession(t, mux)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SessionHeader, id)
	req.Header.Set("X-Test-Subject", "mallory")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postSession(mux, id, `{"jsonrpc":"2.0","method":"ping","id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePost_CancellationScopedToSession(t *testing.T) {
	_, mux := newTestServer(t, Config{
		Dispatcher: newTestDispatcher(t, DispatcherConfig{RequestTimeout: 5 * time.Second}),
	})
	clientA := initSession(t, mux)
	clientB := initSession(t, mux)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postSession(mux, clientA, `{"jsonrpc":"2.0","method":"block","id":1}`)
	}()

	cancel := `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, http.StatusAccepted, postSession(mux, clientB, cancel).Code)
	assert.Equal(t, http.StatusAccepted, postSession(mux, "", cancel).Code)

	select {
	case <-done:
		t.Fatal("another client's cancellation ended the request")
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, http.StatusAccepted, postSession(mux, clientA, cancel).Code)
	select {
	case rec := <-done:
		r := decodeReply(t, rec)
		require.NotNil(t, r.Error)
		assert.Equal(t, "request cancelled", r.Error.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not cancelled by its own session")
	}
}

func TestServer_Middleware(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	_, mux := newTestServer(t, Config{Middleware: deny})

	rec := post(mux, "application/json", `{"jsonrpc":"2.0","method":"ping","id":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/mcp/events", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// readEvent reads one SSE event and returns its type and data.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var typ string
	var data []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if typ != "" || len(data) > 0 {
				return typ, strings.Join(data, "\n")
			}
		case strings.HasPrefix(line, "event:"):
			typ = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func TestEvents_StreamNotifications(t *testing.T) {
	b := NewBroadcaster(nil)
	_, mux := newTestServer(t, Config{Broadcaster: b})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mcp/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	typ, data := readEvent(t, r)
	assert.Equal(t, "endpoint", typ)
	assert.Equal(t, "/mcp", data)
	assert.Equal(t, 1, b.Subscribers())

	require.NoError(t, b.Notify(NotificationResourceListChanged, nil))

	typ, data = readEvent(t, r)
	assert.Equal(t, "message", typ)
	var n jsonrpc.Notification
	require.NoError(t, json.Unmarshal([]byte(data), &n))
	assert.Equal(t, NotificationResourceListChanged, n.Method)
	assert.Equal(t, "2.0", n.JSONRPC)

	// Closing the broadcaster ends the stream.
	b.Close()
	_, err = io.ReadAll(r)
	assert.NoError(t, err)
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Close()
	b.Close()

	ch, _ := b.Subscribe(context.Background())
	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, b.Notify("notifications/test", map[string]string{"k": "v"}))
}

func TestBroadcaster_UnsubscribeOnContextCancel(t *testing.T) {
	b := NewBroadcaster(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	assert.Equal(t, 1, b.Subscribers())

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize * 2 {
			_ = b.Notify("notifications/tick", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}
