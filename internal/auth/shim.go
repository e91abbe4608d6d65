package auth

import (
	"net/http"
	"strings"
)

// APIKeyHeader is the canonical header carrying an API key.
const APIKeyHeader = "X-Api-Key"

// apiKeyQueryParam is the query parameter promoted by the shim.
const apiKeyQueryParam = "apiKey"

// APIKeyQueryShim promotes an apiKey query parameter into the canonical
// X-Api-Key header so downstream middleware can operate on a single
// representation. Promotion only happens for the configured path prefixes,
// which keeps credentials out of query strings everywhere except the
// integrations that cannot send headers (badge embeds, download links).
// Requests that already present the header are left untouched.
func APIKeyQueryShim(pathPrefixes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldPromoteQueryKey(r, pathPrefixes) {
				if key := r.URL.Query().Get(apiKeyQueryParam); key != "" {
					r.Header.Set(APIKeyHeader, key)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func shouldPromoteQueryKey(r *http.Request, pathPrefixes []string) bool {
	if r == nil {
		return false
	}

	if r.Header.Get(APIKeyHeader) != "" {
		return false
	}

	for _, prefix := range pathPrefixes {
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}

	return false
}
