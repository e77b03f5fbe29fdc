// Package builtins provides the tools and resources every server registers.
//
// # Tools
//
//   - echo_message: echo a message with server name, mode and timestamp
//   - get_server_info: server name, version and configuration summary
//   - health, readiness, liveness: the health documents served over HTTP
//
// # Resources
//
//   - health://status (application/json, never cached)
//   - resource://server-info (application/json)
//   - docs://<page> (text/html), one per embedded markdown file under docs/
//
// # Registration
//
//	reg := mcp.NewRegistry()
//	err := builtins.Register(reg, builtins.Deps{Config: cfg, Health: mgr})
package builtins
