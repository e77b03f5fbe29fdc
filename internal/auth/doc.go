// Package auth authenticates callers of the MCP endpoint.
//
// # Authentication Methods
//
//   - API key: the configured header (X-API-Key by default) must equal the
//     server secret key. Compared in constant time.
//
//   - Bearer token: "Authorization: Bearer <jwt>" where the JWT is HS256
//     signed with the secret key and carries sub and exp claims.
//
// Health endpoints are mounted outside the middleware and never require
// credentials.
//
// # Token Management
//
//	v := NewJWTVerifier([]byte(secret), serverName)
//	token, err := v.Generate("ci-runner", 24*time.Hour)
//	subject, err := v.Verify(token)
//
// The CLI "token" subcommand wraps Generate.
package auth
