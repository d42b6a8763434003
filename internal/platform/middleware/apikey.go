package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader carries a relay API key.
const APIKeyHeader = "X-API-Key"

type apiKeyContextKey struct{}

// WithAPIKey marks ctx as carrying a valid relay API key.
// Exported so other packages can authenticate requests in tests.
func WithAPIKey(ctx context.Context) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, true)
}

// HasAPIKey reports whether the request presented a valid relay API key.
func HasAPIKey(ctx context.Context) bool {
	ok, _ := ctx.Value(apiKeyContextKey{}).(bool)
	return ok
}

// APIKey checks the X-API-Key header against keys. A matching key marks the
// request context; an unknown key is rejected with 401. Requests without the
// header pass through unmarked so routes can fall back to their own
// credentials.
func APIKey(keys []string) func(http.Handler) http.Handler {
	valid := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, []byte(k))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(APIKeyHeader)
			if presented == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !matchKey(valid, []byte(presented)) {
				writeAuthError(w, "invalid api key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context())))
		})
	}
}

// RequireAPIKey rejects requests that APIKey did not mark.
func RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !HasAPIKey(r.Context()) {
			writeAuthError(w, "missing api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func matchKey(valid [][]byte, presented []byte) bool {
	found := false
	for _, k := range valid {
		if subtle.ConstantTimeCompare(k, presented) == 1 {
			found = true
		}
	}
	return found
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
