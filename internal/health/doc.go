// Package health tracks the server lifecycle and answers orchestrator health checks.
//
// # Lifecycle
//
// The Manager moves through four states, never backwards:
//
//	Starting -> Ready -> ShuttingDown -> Stopped
//
// Starting becomes Ready once the startup grace period elapses. Shutdown is
// one-way and idempotent: the first BeginShutdown (from a signal or a caller)
// wins, later requests are ignored. Signal delivery only flips the state; the
// actual draining happens in Drain, run by the shutdown coordinator.
//
// # Health endpoints
//
//   - GET /health      process status and uptime
//   - GET /readiness   whether the server should receive traffic
//   - GET /liveness    whether the process is alive
//
// All health endpoints answer 200 and report their verdict in the body.
package health
