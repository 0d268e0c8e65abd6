// Package housekeeping runs the periodic retention purge of the event log.
// Runs are scheduled with robfig/cron and guarded by a lock so a fleet of
// relays purges once per tick.
package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/locks"
	"webhook-relay/internal/observability"
)

const (
	lockKey  = "housekeeping"
	lockTTL  = 5 * time.Minute
	stateKey = "webhook-relay:housekeeping:last_run"
)

// Purger deletes events older than a cutoff.
type Purger interface {
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StateStore persists the last run so every instance can report it.
type StateStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

// Config holds the schedule and the retention window.
type Config struct {
	Schedule      string
	RetentionDays int
}

// Run describes one purge.
type Run struct {
	StartedAt time.Time `json:"started_at"`
	Cutoff    time.Time `json:"cutoff"`
	Purged    int64     `json:"purged"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// Service schedules and runs housekeeping.
type Service struct {
	config  Config
	purger  Purger
	locks   locks.Manager
	state   StateStore
	metrics *observability.Metrics
	logger  logging.Logger
	now     func() time.Time

	cron *cron.Cron

	mu   sync.Mutex
	last *Run
}

// Option configures a Service.
type Option func(*Service)

// WithState shares run state through store.
func WithState(store StateStore) Option {
	return func(s *Service) { s.state = store }
}

// WithMetrics counts purged events.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service. The schedule is parsed here so a bad spec fails
// at startup.
func New(config Config, purger Purger, lockManager locks.Manager, opts ...Option) (*Service, error) {
	if purger == nil {
		return nil, errors.ConfigError("housekeeping requires an event store")
	}
	if config.RetentionDays < 0 {
		return nil, errors.ConfigError("retention days must not be negative")
	}
	if lockManager == nil {
		lockManager = locks.NewLocalManager()
	}

	s := &Service{
		config: config,
		purger: purger,
		locks:  lockManager,
		logger: logging.Component("housekeeping"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(config.Schedule, s.tick); err != nil {
		return nil, errors.ConfigError("invalid housekeeping schedule: " + err.Error())
	}
	return s, nil
}

// Start begins the schedule. A zero retention leaves the schedule idle.
func (s *Service) Start() {
	if s.config.RetentionDays == 0 {
		s.logger.Info("Event retention disabled")
		return
	}
	s.cron.Start()
	s.logger.Info("Housekeeping scheduled",
		logging.String("schedule", s.config.Schedule),
		logging.Int("retention_days", s.config.RetentionDays),
	)
}

// Stop halts the schedule and waits for a running purge, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return errors.TimeoutError("housekeeping stop")
	}
}

func (s *Service) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), lockTTL)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil && !errors.IsType(err, errors.ErrTypeConflict) {
		s.logger.Error("Housekeeping run failed", err)
	}
}

// RunOnce purges events older than the retention window. It returns a
// conflict error when another instance holds the housekeeping lock.
func (s *Service) RunOnce(ctx context.Context) (*Run, error) {
	if s.config.RetentionDays == 0 {
		return nil, errors.ConfigError("event retention is disabled")
	}

	lock, err := s.locks.TryAcquire(ctx, lockKey, lockTTL)
	if err != nil {
		s.logger.Debug("Housekeeping skipped, lock held elsewhere", logging.Err(err))
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			s.logger.Warn("Failed to release housekeeping lock", logging.Err(err))
		}
	}()

	started := s.now().UTC()
	run := &Run{
		StartedAt: started,
		Cutoff:    started.Add(-time.Duration(s.config.RetentionDays) * 24 * time.Hour),
	}

	purged, err := s.purger.PurgeEventsBefore(ctx, run.Cutoff)
	run.Purged = purged
	run.Duration = s.now().Sub(started).String()
	if err != nil {
		run.Error = err.Error()
	}

	s.metrics.RecordPurged(ctx, purged)
	s.remember(ctx, run)

	if err != nil {
		return run, errors.UnavailableError("failed to purge events", err)
	}
	s.logger.Info("Purged expired events",
		logging.Int64("purged", purged),
		logging.String("cutoff", run.Cutoff.Format(time.RFC3339)),
	)
	return run, nil
}

func (s *Service) remember(ctx context.Context, run *Run) {
	s.mu.Lock()
	copied := *run
	s.last = &copied
	s.mu.Unlock()

	if s.state == nil {
		return
	}
	if err := s.state.Set(ctx, stateKey, run, 0); err != nil {
		s.logger.Warn("Failed to store housekeeping state", logging.Err(err))
	}
}

// LastRun returns the most recent run known to this instance or, with a
// state store, to any instance. It returns nil before the first run.
func (s *Service) LastRun(ctx context.Context) *Run {
	if s.state != nil {
		var run Run
		if err := s.state.GetJSON(ctx, stateKey, &run); err == nil {
			return &run
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	copied := *s.last
	return &copied
}
