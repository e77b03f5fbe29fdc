// ABOUTME: Health, readiness and liveness queries plus their HTTP handlers
// ABOUTME: Dependency checks run concurrently; a failing check only lowers readiness

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 2 * time.Second

// Checker reports whether a dependency is usable.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckFunc adapts fn to a Checker named name.
func CheckFunc(name string, fn func(context.Context) error) Checker {
	return checkFunc{name: name, fn: fn}
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status         string  `json:"status"`
	Timestamp      string  `json:"timestamp"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	DeploymentMode string  `json:"deployment_mode"`
	Version        string  `json:"version"`
}

// ReadinessStatus is the body of GET /readiness.
type ReadinessStatus struct {
	Ready     bool            `json:"ready"`
	Checks    map[string]bool `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

// LivenessStatus is the body of GET /liveness.
type LivenessStatus struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
	PID       int    `json:"pid"`
}

func (m *Manager) timestamp() string {
	return m.now().UTC().Format(time.RFC3339Nano)
}

// Health reports overall status and uptime.
func (m *Manager) Health() HealthStatus {
	m.mu.Lock()
	state := m.state
	startedAt := m.startedAt
	m.mu.Unlock()

	status := "healthy"
	if state >= StateShuttingDown {
		status = "shutting_down"
	}

	return HealthStatus{
		Status:         status,
		Timestamp:      m.timestamp(),
		UptimeSeconds:  m.now().Sub(startedAt).Seconds(),
		DeploymentMode: m.opts.DeploymentMode,
		Version:        m.opts.Version,
	}
}

// Readiness reports whether the server should receive traffic. The server
// check passes only in the Ready state; dependency checks run concurrently
// with a per-check timeout.
func (m *Manager) Readiness(ctx context.Context) ReadinessStatus {
	checks := map[string]bool{
		"server": m.State() == StateReady,
	}

	results := make([]bool, len(m.opts.Checks))
	if m.opts.StubChecks {
		for i := range results {
			results[i] = true
		}
	} else {
		var g errgroup.Group
		for i, c := range m.opts.Checks {
			g.Go(func() error {
				checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
				defer cancel()
				if err := c.Check(checkCtx); err != nil {
					m.logger.Warn("readiness check failed", "check", c.Name(), "error", err)
					return nil
				}
				results[i] = true
				return nil
			})
		}
		_ = g.Wait()
	}

	ready := true
	for i, c := range m.opts.Checks {
		checks[c.Name()] = results[i]
	}
	for _, ok := range checks {
		ready = ready && ok
	}

	return ReadinessStatus{
		Ready:     ready,
		Checks:    checks,
		Timestamp: m.timestamp(),
	}
}

// Liveness reports that the process is alive.
func (m *Manager) Liveness() LivenessStatus {
	return LivenessStatus{
		Alive:     true,
		Timestamp: m.timestamp(),
		PID:       os.Getpid(),
	}
}

// RegisterRoutes registers the health endpoints on mux. They are never
// authenticated.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", m.handleHealth)
	mux.HandleFunc("GET /health/ready", m.handleReadiness)
	mux.HandleFunc("GET /readiness", m.handleReadiness)
	mux.HandleFunc("GET /liveness", m.handleLiveness)
}

func (m *Manager) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.Health())
}

func (m *Manager) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.Readiness(r.Context()))
}

func (m *Manager) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.Liveness())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
