// ABOUTME: Cache interface shared by the memory and Redis backends
// ABOUTME: New picks the backend from configuration

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/2389/mcp-foundation/internal/config"
)

// DefaultMaxEntries bounds the memory cache when no size is given.
const DefaultMaxEntries = 10000

// ErrClosed is returned by a memory cache after Close.
var ErrClosed = errors.New("cache closed")

// Cache stores opaque byte values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// New returns a Redis cache when a Redis URL is configured, otherwise an
// in-process memory cache using the configured cache TTL.
func New(cfg *config.Config) (Cache, error) {
	if cfg.Redis.URL != "" {
		r, err := NewRedis(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return NewMemory(cfg.Performance.CacheTTL, DefaultMaxEntries), nil
}
