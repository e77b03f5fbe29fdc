// ABOUTME: Client sessions issued on initialize and carried in the Mcp-Session-Id header
// ABOUTME: A session is the scope in which a client may cancel its own requests

package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/mcp-foundation/internal/auth"
)

// SessionHeader carries the session id issued by initialize.
const SessionHeader = "Mcp-Session-Id"

// session tracks an MCP client session.
type session struct {
	id        string
	owner     string // caller identity at initialize; empty when unauthenticated
	createdAt time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(owner string) *session {
	sess := &session{
		id:        uuid.New().String(),
		owner:     owner,
		createdAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

func (s *sessionStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ownerOf identifies the authenticated caller of ctx, if any.
func ownerOf(ctx context.Context) string {
	p := auth.FromContext(ctx)
	if p == nil {
		return ""
	}
	return string(p.Method) + ":" + p.Subject
}

type scopeKey struct{}

// WithScope returns ctx carrying the cancellation scope for requests
// dispatched under it. Requests in different scopes never cancel each other.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func scopeFrom(ctx context.Context) string {
	s, _ := ctx.Value(scopeKey{}).(string)
	return s
}
