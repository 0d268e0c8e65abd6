package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/observability"
)

func bufferLogger(t *testing.T) (logging.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.DebugLevel, Output: &buf})
	require.NoError(t, err)
	return logger, &buf
}

func statusHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger, buf := bufferLogger(t)
			handler := LoggingMiddleware(logger)(statusHandler(tt.status))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sources", nil))

			out := buf.String()
			assert.Contains(t, out, tt.level)
			assert.Contains(t, out, "HTTP request completed")
			assert.Contains(t, out, "/api/sources")
		})
	}
}

func TestLoggingMiddleware_RedactsIngestToken(t *testing.T) {
	logger, buf := bufferLogger(t)
	handler := LoggingMiddleware(logger)(statusHandler(http.StatusAccepted))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ingest/tok_supersecret/orders", nil))

	assert.NotContains(t, buf.String(), "tok_supersecret")
	assert.Contains(t, buf.String(), "/ingest/[redacted]/orders")
}

func TestRedactPath(t *testing.T) {
	assert.Equal(t, "/api/events", RedactPath("/api/events"))
	assert.Equal(t, "/ingest", RedactPath("/ingest"))
	assert.Equal(t, "/ingest/[redacted]", RedactPath("/ingest/abc"))
	assert.Equal(t, "/ingest/[redacted]/a/b", RedactPath("/ingest/abc/a/b"))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logging.RequestIDKey).(string)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-1", seen)
	assert.Equal(t, "upstream-1", rec.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	logger, buf := bufferLogger(t)
	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"internal"`)
	assert.Contains(t, buf.String(), "Handler panicked")
}

func TestRecovery_AfterHeaderWritten(t *testing.T) {
	handler := Recovery(logging.NewNopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	metrics, scrape, err := observability.NewMetrics(context.Background())
	require.NoError(t, err)
	defer metrics.Shutdown(context.Background())

	r := mux.NewRouter()
	r.Use(Metrics(metrics))
	r.Handle("/api/events/{id}", statusHandler(http.StatusNotFound)).Methods(http.MethodGet)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/events/evt_12345", nil))

	rec := httptest.NewRecorder()
	scrape.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "http_requests_total")
	assert.Contains(t, string(body), `/api/events/{id}`)
	assert.NotContains(t, string(body), "evt_12345")
}

func TestMetrics_Nil(t *testing.T) {
	handler := Metrics(nil)(statusHandler(http.StatusOK))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
