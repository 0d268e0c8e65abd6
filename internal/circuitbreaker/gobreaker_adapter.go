// Package circuitbreaker provides per-destination circuit breakers using
// Sony's gobreaker.
package circuitbreaker

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/models"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureRatio of failed calls in the window that opens the breaker
	FailureRatio float64
	// MinRequests is how many calls the window needs before the ratio counts
	MinRequests int
	// Cooldown is how long the breaker stays open before going half-open
	Cooldown time.Duration
	// HalfOpenRequests is how many probes are allowed while half-open
	HalfOpenRequests int
	// Interval resets the closed-state counts; zero never resets
	Interval time.Duration
}

// DefaultConfig returns the destination defaults
func DefaultConfig() Config {
	return Config{
		FailureRatio:     models.DefaultBreakerFailureRatio,
		MinRequests:      models.DefaultBreakerMinRequests,
		Cooldown:         time.Duration(models.DefaultBreakerCooldownSecs) * time.Second,
		HalfOpenRequests: 1,
		Interval:         time.Minute,
	}
}

// ConfigFor derives the breaker configuration of a destination.
func ConfigFor(d *models.Destination) Config {
	cfg := DefaultConfig()
	cfg.FailureRatio = d.BreakerFailureRatio
	cfg.MinRequests = d.BreakerMinRequests
	cfg.Cooldown = d.BreakerCooldown()
	return cfg
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		return fmt.Errorf("FailureRatio must be in (0, 1], got %v", c.FailureRatio)
	}
	if c.MinRequests <= 0 {
		return fmt.Errorf("MinRequests must be positive, got %d", c.MinRequests)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("Cooldown must be positive, got %v", c.Cooldown)
	}
	if c.HalfOpenRequests <= 0 {
		return fmt.Errorf("HalfOpenRequests must be positive, got %d", c.HalfOpenRequests)
	}
	return nil
}

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means the circuit breaker is closed and allowing requests through
	StateClosed State = iota
	// StateOpen means the circuit breaker is open and rejecting requests
	StateOpen
	// StateHalfOpen means the circuit breaker is testing if the destination has recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats returns statistics about the circuit breaker
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Requests  int    `json:"requests"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
}

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = stderrors.New("circuit breaker is open")

// IsOpen reports whether err came from a rejecting breaker.
func IsOpen(err error) bool {
	return stderrors.Is(err, ErrOpen)
}

// GoBreakerAdapter wraps gobreaker's two-step breaker so a call can be
// admitted before and reported after a network round-trip.
type GoBreakerAdapter struct {
	name    string
	config  Config
	breaker *gobreaker.TwoStepCircuitBreaker
	logger  logging.Logger
}

// NewGoBreaker creates a new circuit breaker using Sony's gobreaker implementation
func NewGoBreaker(name string, config Config, logger logging.Logger) *GoBreakerAdapter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	if err := config.Validate(); err != nil {
		// Use defaults if validation fails to prevent panics
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "name", Value: name},
		)
		config = DefaultConfig()
	}

	ratio := config.FailureRatio
	minRequests := uint32(config.MinRequests)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.HalfOpenRequests),
		Interval:    config.Interval,
		Timeout:     config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
	}

	return &GoBreakerAdapter{
		name:    name,
		config:  config,
		breaker: gobreaker.NewTwoStepCircuitBreaker(settings),
		logger:  logger,
	}
}

// Allow admits one call. The returned done must be called exactly once with
// the call's outcome.
func (g *GoBreakerAdapter) Allow() (func(success bool), error) {
	done, err := g.breaker.Allow()
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: %s", ErrOpen, g.name)
	}
	if err != nil {
		return nil, err
	}
	return done, nil
}

// Config returns the configuration the breaker was built with.
func (g *GoBreakerAdapter) Config() Config {
	return g.config
}

// State returns the current state of the circuit breaker
func (g *GoBreakerAdapter) State() State {
	switch g.breaker.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Stats returns current statistics
func (g *GoBreakerAdapter) Stats() Stats {
	counts := g.breaker.Counts()

	return Stats{
		Name:      g.name,
		State:     g.State().String(),
		Requests:  int(counts.Requests),
		Failures:  int(counts.TotalFailures),
		Successes: int(counts.TotalSuccesses),
	}
}

// IsOpen returns true if the circuit breaker is open
func (g *GoBreakerAdapter) IsOpen() bool {
	return g.breaker.State() == gobreaker.StateOpen
}
