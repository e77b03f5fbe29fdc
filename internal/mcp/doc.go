// Package mcp implements the Model Context Protocol dispatch layer and its
// HTTP transport.
//
// # Overview
//
// Tools and resources are registered in a Registry at startup. Building a
// Dispatcher seals the registry; from then on it is read-only and lookups take
// no lock.
//
// # Protocol
//
// The server speaks JSON-RPC 2.0 over HTTP:
//
//   - POST /mcp - JSON-RPC requests, notifications and batches
//   - GET /mcp, GET /mcp/events - server-sent event stream of notifications
//   - DELETE /mcp - end the session named by Mcp-Session-Id
//
// # Sessions
//
// A lone initialize request without an Mcp-Session-Id header starts a session
// and the id is returned in that header. Sessions are optional: requests
// without one still work. notifications/cancelled only reaches requests in the
// same session, or in the same payload when no session is given. A session
// belongs to the caller that created it; anyone else gets 404.
//
// Supported methods:
//
//	initialize, ping
//	tools/list, tools/call
//	resources/list, resources/read
//
// A registered tool can also be invoked directly with its name as the method,
// and a resource with its URI.
//
// # Errors
//
// Every request yields exactly one response:
//
//	-32601  unknown method (data: the method name)
//	-32602  malformed params, unknown tool or resource
//	-32603  handler error or panic (data: the failure message)
//	-32000  server shutting down
//	-32001  request timed out
//
// A payload of notifications only is answered with 202 Accepted and no body.
//
// # Tool Execution
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "echo_message",
//	    "arguments": {"message": "hello"}
//	  },
//	  "id": 2
//	}
//
// Tool output is returned as text content; non-string output is encoded as JSON.
package mcp
