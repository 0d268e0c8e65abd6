package dispatcher

import (
	"fmt"
	"time"

	"webhook-relay/internal/common/utils"
	"webhook-relay/internal/config"
)

// Config controls queueing and retry behaviour. Every destination gets its
// own queue of QueueSize tasks served by Workers goroutines.
type Config struct {
	QueueSize    int
	Workers      int
	MaxAttempts  int
	Backoff      utils.Backoff
	AllowPrivate bool

	// SnippetBytes bounds the response body kept on an attempt.
	SnippetBytes int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:   1000,
		Workers:     8,
		MaxAttempts: 10,
		Backoff: utils.Backoff{
			Base:         time.Second,
			Max:          5 * time.Minute,
			JitterFactor: 0.2,
		},
		SnippetBytes: 4096,
	}
}

// FromConfig maps the application configuration onto a dispatcher Config.
func FromConfig(cfg *config.Config) Config {
	c := DefaultConfig()
	c.QueueSize = cfg.DispatchQueueSize
	c.Workers = cfg.DispatchWorkers
	c.MaxAttempts = cfg.DispatchMaxAttempts
	c.Backoff.Base = cfg.DispatchBackoffBase
	c.Backoff.Max = cfg.DispatchBackoffMax
	c.Backoff.JitterFactor = cfg.DispatchJitterFactor
	c.AllowPrivate = cfg.AllowPrivateDestinations
	return c
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.Backoff.Base <= 0 {
		return fmt.Errorf("backoff base must be positive")
	}
	if c.Backoff.Max < c.Backoff.Base {
		return fmt.Errorf("backoff max must not be below backoff base")
	}
	if c.Backoff.JitterFactor < 0 || c.Backoff.JitterFactor > 1 {
		return fmt.Errorf("jitter factor must be between 0 and 1")
	}
	if c.SnippetBytes < 0 {
		return fmt.Errorf("snippet bytes must not be negative")
	}
	return nil
}
