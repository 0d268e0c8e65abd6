// Package ratelimit provides the keyed, in-process throttle guarding the
// ingestion endpoints. Each key (usually a caller IP) gets its own
// golang.org/x/time/rate limiter; idle keys are evicted periodically.
//
// # Basic Usage
//
//	limiter, err := ratelimit.NewKeyedLimiter(ratelimit.Config{
//		RequestsPerSecond: 50,
//		BurstSize:         100,
//		Enabled:           true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	router.Use(ratelimit.HTTPMiddleware(limiter, ratelimit.IPKey(false)))
//
// Destination admission for outbound calls lives in internal/ratelimit;
// this package only sheds inbound load.
package ratelimit
