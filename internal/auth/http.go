// ABOUTME: HTTP middleware guarding the MCP endpoint with an API key or bearer JWT
// ABOUTME: Rejects unauthenticated requests with 401 and attaches the principal to the context

package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// APIKeySubject is the principal subject for callers using the shared API key.
const APIKeySubject = "api-key"

// Options configure Middleware.
type Options struct {
	HeaderName string        // API key header, e.g. X-API-Key
	SecretKey  string        // shared API key and token signing secret
	Verifier   TokenVerifier // optional; bearer tokens are rejected when nil
	Logger     *slog.Logger
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing credentials"
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// matchAPIKey compares in constant time. An empty secret never matches.
func matchAPIKey(presented, secret string) bool {
	if presented == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// Middleware returns an HTTP middleware that authenticates each request with
// the API key header or, failing that, an Authorization bearer token.
func Middleware(opts Options) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.HeaderName != "" {
				if key := r.Header.Get(opts.HeaderName); key != "" {
					if !matchAPIKey(key, opts.SecretKey) {
						reject(w, r, logger, "invalid api key")
						return
					}
					ctx := WithPrincipal(r.Context(), &Principal{Subject: APIKeySubject, Method: MethodAPIKey})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				reject(w, r, logger, errMsg)
				return
			}
			if opts.Verifier == nil {
				reject(w, r, logger, "bearer tokens not accepted")
				return
			}

			subject, err := opts.Verifier.Verify(token)
			if err != nil {
				reject(w, r, logger, "invalid token", "error", err)
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{Subject: subject, Method: MethodBearer})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string, attrs ...any) {
	logger.Warn("auth failure", append([]any{"reason", reason, "remote_addr", r.RemoteAddr, "path", r.URL.Path}, attrs...)...)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
