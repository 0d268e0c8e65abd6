package app

import (
	"github.com/gorilla/mux"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/common/ratelimit"
)

// ingestThrottle builds the per-address throttle for the ingest endpoints.
// It returns nil when INGEST_RATE_LIMIT_ENABLED is off.
func (app *App) ingestThrottle() (mux.MiddlewareFunc, error) {
	if !app.Config.IngestRateLimitEnabled {
		return nil, nil
	}

	rateLimitConfig := ratelimit.Config{
		RequestsPerSecond: app.Config.IngestRateLimitRPS,
		BurstSize:         app.Config.IngestRateLimitBurst,
		Enabled:           true,
	}

	limiter, err := ratelimit.NewKeyedLimiter(rateLimitConfig)
	if err != nil {
		return nil, err
	}

	app.Logger.Info("Ingest Throttle: Enabled",
		logging.Int("rps", app.Config.IngestRateLimitRPS),
		logging.Int("burst", app.Config.IngestRateLimitBurst),
	)
	return mux.MiddlewareFunc(ratelimit.HTTPMiddleware(limiter, ratelimit.IPKey(app.Config.TrustProxyHeaders))), nil
}
