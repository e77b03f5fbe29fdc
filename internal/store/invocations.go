// ABOUTME: Tool invocation log: records which tool ran, for which request, and how it ended
// ABOUTME: Used for debugging and auditing tool usage across restarts

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Invocation is one recorded tool call.
type Invocation struct {
	ID        string        // UUID v4
	Tool      string        // tool name
	RequestID string        // JSON-RPC request id as printed
	Duration  time.Duration // handler run time
	Error     string        // empty on success
	CreatedAt time.Time
}

// InvocationFilter specifies filtering options for listing invocations.
type InvocationFilter struct {
	Tool  string // exact tool name; empty for all
	Limit int    // max results (default 100, max 1000)
}

// RecordInvocation appends an invocation. Generates ID and CreatedAt if not set.
func (s *Store) RecordInvocation(ctx context.Context, inv *Invocation) error {
	if inv == nil {
		return errors.New("invocation is required")
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO tool_invocations (id, tool_name, request_id, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.Tool,
		inv.RequestID,
		inv.Duration.Milliseconds(),
		inv.Error,
		inv.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

// normalizeLimit applies default (100) and cap (1000) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// ListInvocations returns invocations newest first.
func (s *Store) ListInvocations(ctx context.Context, f InvocationFilter) ([]Invocation, error) {
	rows, err := s.query(ctx, `
		SELECT id, tool_name, request_id, duration_ms, error, created_at
		FROM tool_invocations
		WHERE (? = '' OR tool_name = ?)
		ORDER BY created_at DESC
		LIMIT ?`,
		f.Tool, f.Tool, normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var durationMS int64
		var created string
		if err := rows.Scan(&inv.ID, &inv.Tool, &inv.RequestID, &durationMS, &inv.Error, &created); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		inv.Duration = time.Duration(durationMS) * time.Millisecond
		inv.CreatedAt, err = time.Parse(timeFormat, created)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
