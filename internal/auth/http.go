// ABOUTME: HTTP middleware requiring an operator bearer token
// ABOUTME: Guards operator-facing HTTP endpoints such as the metrics scrape

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken returns the token, or a non-empty problem description.
func extractBearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", "invalid authorization header format"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPMiddleware rejects requests without a valid bearer token.
func HTTPMiddleware(tokens TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, problem := extractBearerToken(r.Header.Get("Authorization"))
			if problem != "" {
				if logger != nil {
					logger.Warn("auth failure", "reason", problem, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				}
				http.Error(w, problem, http.StatusUnauthorized)
				return
			}
			subject, err := tokens.Verify(token)
			if err != nil {
				if logger != nil {
					logger.Warn("auth failure", "reason", "token rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", err)
				}
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), &Operator{Subject: subject})))
		})
	}
}
