package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"webhook-relay/internal/observability"
)

// Metrics records request counts and latency labelled by the mux route
// template, so path parameters never become label values.
func Metrics(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			path := "unmatched"
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					path = template
				}
			}
			metrics.RecordHTTPRequest(r.Context(), r.Method, path, wrapped.statusCode, time.Since(start).Seconds())
		})
	}
}
