package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewMetrics(t *testing.T) {
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	require.NoError(t, err)
	require.NotNil(t, metrics)
	require.NotNil(t, handler)
	defer metrics.Shutdown(ctx)

	metrics.RecordHTTPRequest(ctx, "POST", "/ingest/secret-token/github", 202, 0.002)
	metrics.RecordHTTPRequest(ctx, "GET", "/api/events/{id}", 404, 0.001)
	metrics.RecordIngest(ctx, "accepted", 128)
	metrics.RecordIngest(ctx, "unauthorized", 0)
	metrics.RecordAttempt(ctx, "dst_1", 200, 0.05)
	metrics.RecordAttempt(ctx, "dst_1", 0, 1.5)
	metrics.RecordDelivery(ctx, "dst_1", "delivered", false)
	metrics.RecordRequeued(ctx, "dst_1")
	metrics.RecordQueued(ctx, "dst_1", 3)
	metrics.RecordQueued(ctx, "dst_1", -1)
	metrics.RecordPurged(ctx, 12)

	body := scrape(t, handler)
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, "ingest_requests_total")
	assert.Contains(t, body, "delivery_attempts_total")
	assert.Contains(t, body, "deliveries_total")
	assert.Contains(t, body, "housekeeping_events_purged_total")
	assert.Contains(t, body, "go_goroutines")
	assert.NotContains(t, body, "secret-token", "ingest tokens never reach labels")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordHTTPRequest(ctx, "GET", "/health", 200, 0.001)
		m.RecordIngest(ctx, "accepted", 10)
		m.RecordAttempt(ctx, "dst", 500, 0.1)
		m.RecordDelivery(ctx, "dst", "failed", true)
		m.RecordRequeued(ctx, "dst")
		m.RecordQueued(ctx, "dst", 1)
		m.RecordPurged(ctx, 1)
		_ = m.Shutdown(ctx)
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/ingest", "/ingest"},
		{"/ingest/tok123", "/ingest"},
		{"/ingest/tok123/github/push", "/ingest"},
		{"/api/sources/{id}", "/api/sources/{id}"},
		{"/ingestion", "/ingestion"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
