package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the relay instruments. A nil *Metrics records nothing, so
// components can be built without metrics in tests.
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Ingestion metrics
	IngestTotal metric.Int64Counter
	IngestBytes metric.Int64Counter

	// Dispatcher metrics
	DeliveryDuration   metric.Float64Histogram
	AttemptsTotal      metric.Int64Counter
	DeliveriesTotal    metric.Int64Counter
	DispatcherRequeued metric.Int64Counter
	DispatcherQueued   metric.Int64UpDownCounter

	// Housekeeping metrics
	EventsPurged metric.Int64Counter
}

// NewMetrics creates the instruments on a private Prometheus registry and
// returns the scrape handler for it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("webhook-relay")
	m := &Metrics{meter: meter, provider: provider}

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, nil, err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return nil, nil, err
	}

	if m.IngestTotal, err = meter.Int64Counter(
		"ingest_requests_total",
		metric.WithDescription("Inbound calls by admission result"),
	); err != nil {
		return nil, nil, err
	}
	if m.IngestBytes, err = meter.Int64Counter(
		"ingest_bytes_total",
		metric.WithDescription("Body bytes of admitted events"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, nil, err
	}

	if m.DeliveryDuration, err = meter.Float64Histogram(
		"delivery_attempt_duration_seconds",
		metric.WithDescription("Outbound attempt latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, nil, err
	}
	if m.AttemptsTotal, err = meter.Int64Counter(
		"delivery_attempts_total",
		metric.WithDescription("Outbound attempts by status class"),
	); err != nil {
		return nil, nil, err
	}
	if m.DeliveriesTotal, err = meter.Int64Counter(
		"deliveries_total",
		metric.WithDescription("Deliveries reaching a terminal outcome"),
	); err != nil {
		return nil, nil, err
	}
	if m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Tasks deferred because the destination breaker was open"),
	); err != nil {
		return nil, nil, err
	}
	if m.DispatcherQueued, err = meter.Int64UpDownCounter(
		"dispatcher_queued",
		metric.WithDescription("Tasks waiting in destination queues (saturation)"),
	); err != nil {
		return nil, nil, err
	}

	if m.EventsPurged, err = meter.Int64Counter(
		"housekeeping_events_purged_total",
		metric.WithDescription("Events removed by retention"),
	); err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordIngest records one inbound call. result is "accepted", "duplicate"
// or the error type that rejected it.
func (m *Metrics) RecordIngest(ctx context.Context, result string, bodyBytes int64) {
	if m == nil {
		return
	}
	m.IngestTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(result)))
	if bodyBytes > 0 {
		m.IngestBytes.Add(ctx, bodyBytes)
	}
}

// RecordAttempt records one outbound attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, destinationID string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	status := attributeForStatus(statusCode)
	m.AttemptsTotal.Add(ctx, 1, metric.WithAttributes(destinationAttr(destinationID), status))
	m.DeliveryDuration.Record(ctx, durationSeconds, metric.WithAttributes(status))
}

// RecordDelivery records a delivery reaching a terminal outcome.
func (m *Metrics) RecordDelivery(ctx context.Context, destinationID, outcome string, replay bool) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.Add(ctx, 1, metric.WithAttributes(
		destinationAttr(destinationID),
		outcomeAttr(outcome),
		replayAttr(replay),
	))
}

// RecordRequeued records a task deferred by an open breaker.
func (m *Metrics) RecordRequeued(ctx context.Context, destinationID string) {
	if m == nil {
		return
	}
	m.DispatcherRequeued.Add(ctx, 1, metric.WithAttributes(destinationAttr(destinationID)))
}

// RecordQueued adjusts the queued task count of a destination.
func (m *Metrics) RecordQueued(ctx context.Context, destinationID string, delta int64) {
	if m == nil {
		return
	}
	m.DispatcherQueued.Add(ctx, delta, metric.WithAttributes(destinationAttr(destinationID)))
}

// RecordPurged records events removed by retention.
func (m *Metrics) RecordPurged(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.EventsPurged.Add(ctx, count)
}
