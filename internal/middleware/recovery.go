package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"webhook-relay/internal/common/errors"
	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/common/logging"
)

// Recovery turns a handler panic into a 500 response.
func Recovery(logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Component("http")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrap(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.WithContext(r.Context()).Error("Handler panicked", fmt.Errorf("%v", rec),
					logging.String("path", RedactPath(r.URL.Path)),
					logging.String("stack", string(debug.Stack())),
				)
				if !wrapped.wroteHeader {
					commonhttp.WriteError(wrapped, errors.InternalError("handler panicked", nil))
				}
			}()
			next.ServeHTTP(wrapped, r)
		})
	}
}
