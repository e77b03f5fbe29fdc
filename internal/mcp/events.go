// ABOUTME: In-memory fan-out of server notifications and the SSE stream that delivers them
// ABOUTME: Slow subscribers drop notifications rather than blocking publishers

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/2389/mcp-foundation/internal/jsonrpc"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for server-initiated notifications.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *jsonrpc.Notification
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *jsonrpc.Notification),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and id. The
// subscription is removed when ctx is canceled. After Close, the returned
// channel is already closed.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *jsonrpc.Notification, string) {
	subID := uuid.New().String()
	ch := make(chan *jsonrpc.Notification, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends n to every subscriber without blocking. Channels are only
// closed under the write lock, so sending under the read lock is safe.
func (b *Broadcaster) Publish(n *jsonrpc.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			b.logger.Debug("dropped notification for slow subscriber",
				"sub_id", id,
				"method", n.Method)
		}
	}
}

// Notify builds a notification and publishes it.
func (b *Broadcaster) Notify(method string, params any) error {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	b.Publish(n)
	return nil
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes all subscriber channels, ending their streams.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}

	b.logger.Debug("broadcaster closed")
}

// handleEvents streams notifications to the client as server-sent events.
// The first event names the endpoint that accepts JSON-RPC posts.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("upgrading to SSE", "error", err)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, subID := s.broadcaster.Subscribe(r.Context())
	defer s.broadcaster.Unsubscribe(subID)

	endpoint := sse.Message{Type: sse.Type("endpoint")}
	endpoint.AppendData(s.endpoint)
	if err := sess.Send(&endpoint); err != nil {
		return
	}
	if err := sess.Flush(); err != nil {
		return
	}

	s.logger.Debug("event stream opened", "sub_id", subID)

	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Error("encoding notification", "error", err)
				continue
			}
			msg := &sse.Message{Type: sse.Type("message")}
			msg.AppendData(string(data))
			if err := sess.Send(msg); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
