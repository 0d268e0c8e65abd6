package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"webhook-relay/internal/common/netutil"
)

// HTTPMiddleware rejects requests over the per-key rate with 429. Requests
// whose key is empty are not throttled.
func HTTPMiddleware(limiter *KeyedLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" || limiter.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			retry := int(math.Ceil(limiter.RetryAfter(key).Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerSecond))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"type":    "rate_limit",
					"message": "rate limit exceeded",
				},
			})
		})
	}
}

// IPKey keys requests by caller address.
func IPKey(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		addr := netutil.ClientAddr(r, trustProxy)
		if !addr.IsValid() {
			return ""
		}
		return addr.String()
	}
}
