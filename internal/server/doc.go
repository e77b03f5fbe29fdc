// Package server assembles a running MCP server from configuration.
//
// New opens the store and cache, registers the built-in tools and resources,
// and builds the dispatcher, lifecycle manager and HTTP routes:
//
//	GET  /health, /health/ready, /readiness, /liveness   never authenticated
//	POST /mcp                                             JSON-RPC
//	GET  /mcp, /mcp/events                                notification stream
//	DELETE /mcp                                           end a session
//
// When grpc_health_port is non-zero a grpc.health.v1 service mirrors the
// lifecycle state on that port.
//
// # Shutdown
//
// Run returns after the lifecycle leaves Ready for any reason: a signal
// delivered through Lifecycle().WatchSignals, context cancellation or a
// listener failure. Shutdown then proceeds in order:
//
//  1. new requests are rejected with -32000
//  2. event streams are closed
//  3. in-flight requests get up to shutdown_timeout to finish
//  4. HTTP and gRPC servers stop, the watcher, cache and store are closed
//  5. the lifecycle reaches Stopped
package server
