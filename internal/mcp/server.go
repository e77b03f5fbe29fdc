// ABOUTME: MCP-compatible HTTP transport: JSON-RPC over POST and notifications over SSE.
// ABOUTME: Enforces content type and body limits before handing payloads to the dispatcher.

package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/2389/mcp-foundation/internal/jsonrpc"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Config holds configuration for the MCP server.
type Config struct {
	Dispatcher  *Dispatcher
	Broadcaster *Broadcaster
	Logger      *slog.Logger

	// Middleware wraps the MCP endpoints, e.g. for authentication. Optional.
	Middleware func(http.Handler) http.Handler
	// Endpoint is the path advertised to event stream clients. Defaults to /mcp.
	Endpoint string
}

// Server implements the MCP HTTP endpoints.
type Server struct {
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	middleware  func(http.Handler) http.Handler
	endpoint    string
	sessions    *sessionStore
	logger      *slog.Logger
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NewBroadcaster(logger)
	}
	middleware := cfg.Middleware
	if middleware == nil {
		middleware = func(h http.Handler) http.Handler { return h }
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "/mcp"
	}

	return &Server{
		dispatcher:  cfg.Dispatcher,
		broadcaster: broadcaster,
		middleware:  middleware,
		endpoint:    endpoint,
		sessions:    newSessionStore(),
		logger:      logger,
	}, nil
}

// RegisterRoutes registers the MCP endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/mcp", s.middleware(http.HandlerFunc(s.handleMCP)))
	mux.Handle("GET /mcp/events", s.middleware(http.HandlerFunc(s.handleEvents)))
}

// handleMCP accepts JSON-RPC posts; GET opens the notification stream and
// DELETE ends a session.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleEvents(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session. Only the caller that created it may.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing "+SessionHeader, http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if sess.owner != ownerOf(r.Context()) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST. Requests
// carrying a session id run in that session's scope; others are scoped to
// their own payload. A single initialize request without a session starts one.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var sess *session
	if sessionID := r.Header.Get(SessionHeader); sessionID != "" {
		var ok bool
		sess, ok = s.sessions.get(sessionID)
		if !ok || sess.owner != ownerOf(r.Context()) {
			// Session expired or not the caller's - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		s.sendJSONRPCError(w, http.StatusUnsupportedMediaType, jsonrpc.CodeParseError, "content type must be application/json")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, http.StatusOK, jsonrpc.CodeParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, http.StatusRequestEntityTooLarge, jsonrpc.CodeInvalidRequest, "request body too large")
		return
	}

	if sess == nil && isInitialize(body) {
		sess = s.sessions.create(ownerOf(r.Context()))
		w.Header().Set(SessionHeader, sess.id)
		s.logger.Info("MCP session created", "session_id", sess.id)
	}

	ctx := r.Context()
	if sess != nil {
		ctx = WithScope(ctx, "session:"+sess.id)
	}

	reply, err := s.dispatcher.Handle(ctx, body)
	if err != nil {
		s.logger.Error("encoding reply", "error", err)
		s.sendJSONRPCError(w, http.StatusInternalServerError, jsonrpc.CodeInternalError, err.Error())
		return
	}

	// Notifications only: accept with no body
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(reply)
}

// sendJSONRPCError writes an error response with a null id, used when the
// payload never reached the dispatcher.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, status, code int, data string) {
	resp := jsonrpc.NewErrorResponse(code, "", jsonrpc.NullID(), data)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode JSON-RPC error", "error", err)
	}
}

// isInitialize reports whether body is a single initialize request.
func isInitialize(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var msg struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return false
	}
	return msg.Method == MethodInitialize
}
