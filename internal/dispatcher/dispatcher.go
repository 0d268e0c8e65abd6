// Package dispatcher forwards events to their destinations. Each destination
// has its own bounded queue and worker pool; a worker admits a delivery
// through the destination's breaker and rate limiter, sends it, records the
// attempt and either finishes the delivery or schedules a retry.
package dispatcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"webhook-relay/internal/circuitbreaker"
	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/common/utils"
	"webhook-relay/internal/models"
	"webhook-relay/internal/observability"
	"webhook-relay/internal/ratelimit"
	"webhook-relay/internal/routing"
	"webhook-relay/internal/storage"
)

// ReasonDestinationRemoved is recorded when a destination is deleted while
// deliveries to it are still pending.
const ReasonDestinationRemoved = "destination removed"

// drainLimit bounds how much of a response is read past the snippet so the
// connection can be reused.
const drainLimit = 64 << 10

// DestinationSource loads the current destination record, secret included.
type DestinationSource interface {
	GetDestination(ctx context.Context, id string) (*models.Destination, error)
}

// Dispatcher owns the destination pipelines.
type Dispatcher struct {
	config       Config
	events       storage.EventStore
	destinations DestinationSource
	limiter      ratelimit.Limiter
	breakers     *circuitbreaker.GoBreakerManager
	clients      *clientCache
	transport    http.RoundTripper
	metrics      *observability.Metrics
	logger       logging.Logger
	now          func() time.Time

	mu        sync.Mutex
	pipelines map[string]*pipeline
	order     []string
	timers    map[uint64]*time.Timer
	nextTimer uint64
	closed    bool

	workers errgroup.Group

	// stopCtx ends intake and limiter waits when Close begins. runCtx is
	// only cancelled when Close gives up on in-flight calls.
	stopCtx context.Context
	stop    context.CancelFunc
	runCtx  context.Context
	abort   context.CancelFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records dispatch metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithBreakers shares a breaker manager, so breaker state can be reported
// elsewhere.
func WithBreakers(breakers *circuitbreaker.GoBreakerManager) Option {
	return func(d *Dispatcher) {
		if breakers != nil {
			d.breakers = breakers
		}
	}
}

// WithClock overrides the clock used for records and signatures.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithTransport sends every call through transport instead of a dialer per
// destination.
func WithTransport(transport http.RoundTripper) Option {
	return func(d *Dispatcher) {
		d.transport = transport
	}
}

// New creates a Dispatcher. Pipelines are created on first use.
func New(config Config, events storage.EventStore, destinations DestinationSource, limiter ratelimit.Limiter, opts ...Option) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid dispatcher config: %v", err))
	}
	if events == nil || destinations == nil || limiter == nil {
		return nil, errors.ConfigError("dispatcher requires an event store, a destination source and a limiter")
	}

	d := &Dispatcher{
		config:       config,
		events:       events,
		destinations: destinations,
		limiter:      limiter,
		logger:       logging.Component("dispatcher"),
		now:          time.Now,
		pipelines:    make(map[string]*pipeline),
		timers:       make(map[uint64]*time.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breakers == nil {
		d.breakers = circuitbreaker.NewGoBreakerManager(d.logger)
	}
	d.clients = newClientCache(config.AllowPrivate, d.transport)
	d.runCtx, d.abort = context.WithCancel(context.Background())
	d.stopCtx, d.stop = context.WithCancel(d.runCtx)
	return d, nil
}

// Enqueue creates a pending delivery for every match, in match order, and
// submits it. A saturated queue records the delivery as overflow. Enqueue
// never blocks on a queue; the returned error reports deliveries that could
// not be persisted.
func (d *Dispatcher) Enqueue(ctx context.Context, event *models.Event, matches []routing.Match, replay bool) ([]*models.Delivery, error) {
	deliveries := make([]*models.Delivery, 0, len(matches))
	var errs []error

	for _, match := range matches {
		now := d.now().UTC()
		delivery := &models.Delivery{
			ID:            utils.NewEventID(),
			EventID:       event.ID,
			DestinationID: match.DestinationID,
			RouteID:       match.RouteID,
			Outcome:       models.OutcomePending,
			Replay:        replay,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := d.events.CreateDelivery(ctx, delivery); err != nil {
			errs = append(errs, fmt.Errorf("create delivery for %s: %w", match.DestinationID, err))
			continue
		}
		deliveries = append(deliveries, delivery)

		queued := *delivery
		if err := d.Submit(&Task{Event: event, Delivery: &queued}); err != nil {
			if errors.IsType(err, errors.ErrTypeOverflow) {
				d.markOverflow(ctx, delivery, err)
				continue
			}
			d.logger.Warn("Delivery left pending",
				logging.String("delivery_id", delivery.ID),
				logging.String("destination_id", delivery.DestinationID),
				logging.Err(err),
			)
		}
	}

	return deliveries, stderrors.Join(errs...)
}

// Submit places task on its destination queue without blocking.
func (d *Dispatcher) Submit(task *Task) error {
	p, err := d.pipelineFor(task.Delivery.DestinationID)
	if err != nil {
		return err
	}
	if !p.offer(task) {
		return errors.OverflowError(task.Delivery.DestinationID)
	}
	d.metrics.RecordQueued(d.runCtx, p.destinationID, 1)
	return nil
}

// Recover resubmits every pending delivery, typically once at start-up.
// It returns how many were queued.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	pending, err := d.events.ListPendingDeliveries(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list pending deliveries: %w", err)
	}

	events := make(map[string]*models.Event)
	recovered := 0
	for _, delivery := range pending {
		event, ok := events[delivery.EventID]
		if !ok {
			event, err = d.events.GetEvent(ctx, delivery.EventID)
			if err != nil {
				d.logger.Warn("Skipping pending delivery without event",
					logging.String("delivery_id", delivery.ID),
					logging.Err(err),
				)
				continue
			}
			events[delivery.EventID] = event
		}

		if err := d.Submit(&Task{Event: event, Delivery: delivery}); err != nil {
			if errors.IsType(err, errors.ErrTypeOverflow) {
				d.markOverflow(ctx, delivery, err)
				continue
			}
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		d.logger.Info("Recovered pending deliveries", logging.Int("count", recovered))
	}
	return recovered, nil
}

// Close stops intake, cancels scheduled retries and waits for workers to
// finish their current call. If ctx ends first, in-flight calls are
// cancelled and their deliveries stay pending.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	d.stop()
	defer d.clients.closeIdle()

	drained := make(chan struct{})
	go func() {
		_ = d.workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.abort()
		return nil
	case <-ctx.Done():
		d.abort()
		<-drained
		return errors.TimeoutError("dispatcher drain")
	}
}

// RemoveDestination tears down the pipeline of a deleted destination and
// forgets its breaker. Workers exit after their current call; tasks still
// queued or waiting for a retry fail as removed.
func (d *Dispatcher) RemoveDestination(destinationID string) {
	d.mu.Lock()
	p, ok := d.pipelines[destinationID]
	if ok {
		delete(d.pipelines, destinationID)
		for i, id := range d.order {
			if id == destinationID {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	}
	d.mu.Unlock()

	d.breakers.Remove(destinationID)
	if ok {
		p.remove()
		d.logger.Debug("Destination pipeline removed", logging.String("destination_id", destinationID))
	}
}

// drainRemoved fails every task left on a removed pipeline.
func (d *Dispatcher) drainRemoved(p *pipeline) {
	for {
		select {
		case task := <-p.queue:
			d.metrics.RecordQueued(d.runCtx, p.destinationID, -1)
			d.finish(task, models.OutcomeFailed, ReasonDestinationRemoved)
		default:
			return
		}
	}
}

func (d *Dispatcher) pipelineFor(destinationID string) (*pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.UnavailableError("dispatcher is closed", nil)
	}
	if p, ok := d.pipelines[destinationID]; ok {
		return p, nil
	}

	p := newPipeline(destinationID, d.config.QueueSize, d.config.Workers)
	d.pipelines[destinationID] = p
	d.order = append(d.order, destinationID)
	for i := 0; i < p.workers; i++ {
		d.workers.Go(func() error {
			d.work(p)
			return nil
		})
	}
	return p, nil
}

func (d *Dispatcher) work(p *pipeline) {
	for {
		if d.stopCtx.Err() != nil {
			return
		}
		select {
		case <-d.stopCtx.Done():
			return
		case <-p.done:
			d.drainRemoved(p)
			return
		case task := <-p.queue:
			d.metrics.RecordQueued(d.runCtx, p.destinationID, -1)
			p.busy.Add(1)
			d.attempt(p, task)
			p.busy.Add(-1)
		}
	}
}

// attempt makes at most one outbound call for task.
func (d *Dispatcher) attempt(p *pipeline, task *Task) {
	delivery := task.Delivery
	logger := d.logger.WithFields(
		logging.String("delivery_id", delivery.ID),
		logging.String("destination_id", delivery.DestinationID),
		logging.String("event_id", delivery.EventID),
	)

	dest, err := d.destinations.GetDestination(d.stopCtx, delivery.DestinationID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			d.finish(task, models.OutcomeFailed, ReasonDestinationRemoved)
			d.RemoveDestination(delivery.DestinationID)
			return
		}
		if d.stopCtx.Err() != nil {
			return
		}
		logger.Warn("Failed to load destination, retrying", logging.Err(err))
		d.schedule(p, task, d.config.Backoff.Delay(delivery.AttemptCount+1))
		return
	}

	breaker := d.breakers.GetOrCreate(dest.ID, circuitbreaker.ConfigFor(dest))
	if breaker.IsOpen() {
		d.metrics.RecordRequeued(d.runCtx, dest.ID)
		d.schedule(p, task, dest.BreakerCooldown())
		return
	}

	permit, err := d.limiter.Acquire(d.stopCtx, dest.ID, limitsFor(dest))
	if err != nil {
		if d.stopCtx.Err() != nil {
			return
		}
		logger.Warn("Rate limiter unavailable, retrying", logging.Err(err))
		d.schedule(p, task, d.config.Backoff.Base)
		return
	}

	done, err := breaker.Allow()
	if err != nil {
		permit.Release()
		d.metrics.RecordRequeued(d.runCtx, dest.ID)
		delay := d.config.Backoff.Base
		if breaker.IsOpen() {
			delay = dest.BreakerCooldown()
		}
		d.schedule(p, task, delay)
		return
	}

	attemptNo := delivery.AttemptCount + 1
	result := d.send(dest, task, attemptNo)
	permit.Release()

	if result.interrupted {
		// Shutting down; the delivery stays pending for Recover.
		return
	}
	done(result.success())
	d.recordAttempt(task, attemptNo, result)

	delivery.AttemptCount = attemptNo
	delivery.LastStatus = result.status
	delivery.LastError = result.errorString()

	if result.success() {
		d.finish(task, models.OutcomeDelivered, "")
		return
	}
	if attemptNo >= d.config.MaxAttempts {
		failure := errors.DeliveryFailedError(dest.ID, attemptNo, result.failure())
		logger.Warn("Delivery failed", logging.Err(failure))
		d.finish(task, models.OutcomeFailed, "")
		return
	}

	delay := d.config.Backoff.Delay(attemptNo)
	if result.status == http.StatusTooManyRequests {
		if retryAfter, ok := utils.ParseRetryAfter(result.retryAfter, d.now()); ok {
			delay = retryAfter
		}
	}
	delivery.UpdatedAt = d.now().UTC()
	d.persist(delivery)

	logger.Debug("Delivery attempt failed, retrying",
		logging.Int("attempt", attemptNo),
		logging.Int("status", result.status),
		logging.Duration("delay", delay),
	)
	d.schedule(p, task, delay)
}

type sendResult struct {
	status      int
	err         error
	snippet     string
	retryAfter  string
	duration    time.Duration
	interrupted bool
}

func (r sendResult) success() bool {
	return r.err == nil && r.status >= 200 && r.status < 300
}

func (r sendResult) failure() error {
	if r.err != nil {
		return r.err
	}
	return fmt.Errorf("destination responded %d", r.status)
}

func (r sendResult) errorString() string {
	if r.success() {
		return ""
	}
	return r.failure().Error()
}

func (d *Dispatcher) send(dest *models.Destination, task *Task, attemptNo int) sendResult {
	req, err := buildRequest(d.runCtx, dest, task.Event, task.Delivery, attemptNo, d.now())
	if err != nil {
		return sendResult{err: fmt.Errorf("build request: %w", err)}
	}

	start := time.Now()
	resp, err := d.clients.get(dest).Do(req)
	if err != nil {
		return sendResult{
			err:         err,
			duration:    time.Since(start),
			interrupted: d.runCtx.Err() != nil,
		}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.config.SnippetBytes)))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	return sendResult{
		status:     resp.StatusCode,
		snippet:    sanitizeSnippet(snippet),
		retryAfter: resp.Header.Get("Retry-After"),
		duration:   time.Since(start),
	}
}

// sanitizeSnippet makes a response prefix safe for text columns.
func sanitizeSnippet(b []byte) string {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

func (d *Dispatcher) recordAttempt(task *Task, attemptNo int, result sendResult) {
	attempt := &models.Attempt{
		ID:              utils.NewEventID(),
		DeliveryID:      task.Delivery.ID,
		EventID:         task.Delivery.EventID,
		DestinationID:   task.Delivery.DestinationID,
		AttemptNo:       attemptNo,
		StatusCode:      result.status,
		Error:           result.errorString(),
		ResponseSnippet: result.snippet,
		DurationMs:      result.duration.Milliseconds(),
		AttemptedAt:     d.now().UTC(),
	}
	if err := d.events.RecordAttempt(d.runCtx, attempt); err != nil {
		d.logger.Error("Failed to record attempt", err,
			logging.String("delivery_id", attempt.DeliveryID),
		)
	}
	d.metrics.RecordAttempt(d.runCtx, attempt.DestinationID, result.status, result.duration.Seconds())
}

// finish records a terminal outcome. reason, when set, replaces LastError.
func (d *Dispatcher) finish(task *Task, outcome models.Outcome, reason string) {
	delivery := task.Delivery
	delivery.Outcome = outcome
	if reason != "" {
		delivery.LastError = reason
	}
	delivery.UpdatedAt = d.now().UTC()
	d.persist(delivery)
	d.metrics.RecordDelivery(d.runCtx, delivery.DestinationID, string(outcome), delivery.Replay)

	d.logger.Info("Delivery finished",
		logging.String("delivery_id", delivery.ID),
		logging.String("destination_id", delivery.DestinationID),
		logging.String("outcome", string(outcome)),
		logging.Int("attempts", delivery.AttemptCount),
	)
}

func (d *Dispatcher) markOverflow(ctx context.Context, delivery *models.Delivery, cause error) {
	delivery.Outcome = models.OutcomeOverflow
	delivery.LastError = errors.Message(cause)
	delivery.UpdatedAt = d.now().UTC()
	if err := d.events.UpdateDelivery(ctx, delivery); err != nil {
		d.logger.Error("Failed to record overflow", err, logging.String("delivery_id", delivery.ID))
	}
	d.metrics.RecordDelivery(ctx, delivery.DestinationID, string(models.OutcomeOverflow), delivery.Replay)
	d.logger.Warn("Destination queue full",
		logging.String("delivery_id", delivery.ID),
		logging.String("destination_id", delivery.DestinationID),
	)
}

func (d *Dispatcher) persist(delivery *models.Delivery) {
	if err := d.events.UpdateDelivery(d.runCtx, delivery); err != nil {
		d.logger.Error("Failed to update delivery", err, logging.String("delivery_id", delivery.ID))
	}
}

// schedule puts task back on its queue after delay. The send blocks until
// there is room or the dispatcher stops.
func (d *Dispatcher) schedule(p *pipeline, task *Task, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	id := d.nextTimer
	d.nextTimer++
	d.timers[id] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, id)
		d.mu.Unlock()

		select {
		case p.queue <- task:
			d.metrics.RecordQueued(d.runCtx, p.destinationID, 1)
			if p.removed() {
				d.drainRemoved(p)
			}
		case <-p.done:
			d.finish(task, models.OutcomeFailed, ReasonDestinationRemoved)
		case <-d.stopCtx.Done():
		}
	})
}

func limitsFor(dest *models.Destination) ratelimit.Limits {
	return ratelimit.Limits{
		RPS:         dest.MaxRPS,
		Burst:       dest.Burst,
		MaxInflight: dest.MaxInflight,
	}
}

// DestinationStats combines the pipeline, limiter and breaker views of one
// destination.
type DestinationStats struct {
	PipelineStats
	Limiter *ratelimit.Stats      `json:"limiter,omitempty"`
	Breaker *circuitbreaker.Stats `json:"breaker,omitempty"`
}

// Stats is a snapshot of the dispatcher.
type Stats struct {
	Destinations []DestinationStats `json:"destinations"`
	Scheduled    int                `json:"scheduled"`
	Closed       bool               `json:"closed"`
}

// Stats reports every pipeline in creation order.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pipelines := make([]*pipeline, 0, len(d.order))
	for _, id := range d.order {
		pipelines = append(pipelines, d.pipelines[id])
	}
	stats := Stats{
		Destinations: make([]DestinationStats, 0, len(pipelines)),
		Scheduled:    len(d.timers),
		Closed:       d.closed,
	}
	d.mu.Unlock()

	for _, p := range pipelines {
		entry := DestinationStats{PipelineStats: p.stats()}
		if limiterStats, ok := d.limiter.Stats(p.destinationID); ok {
			entry.Limiter = &limiterStats
		}
		if breaker, ok := d.breakers.Get(p.destinationID); ok {
			breakerStats := breaker.Stats()
			entry.Breaker = &breakerStats
		}
		stats.Destinations = append(stats.Destinations, entry)
	}
	return stats
}
