// ABOUTME: HTTP middleware for bearer-token agent authentication
// ABOUTME: Extracts the Authorization header and adds the agent subject to context

package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const agentContextKey contextKey = "agent_subject"

// ExtractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func ExtractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// WithAgent returns a context carrying the verified agent subject.
func WithAgent(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, agentContextKey, subject)
}

// AgentFromContext returns the verified agent subject, or "" if the request
// was not agent-authenticated.
func AgentFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(agentContextKey).(string)
	return subject
}

// RequireAgent creates middleware that rejects requests without a valid
// agent bearer token and adds the agent subject to the request context.
func RequireAgent(verifier *AgentVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := ExtractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			subject, err := verifier.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired agent token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), subject)))
		})
	}
}

// MatchesManagementToken reports whether the Authorization header carries
// the deployment's static management token. An empty configured token
// disables management access entirely.
func MatchesManagementToken(authHeader, configured string) bool {
	if configured == "" {
		return false
	}
	token, errMsg := ExtractBearerToken(authHeader)
	if errMsg != "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(configured)) == 1
}
