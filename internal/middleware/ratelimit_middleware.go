package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ampos-license-server/internal/metrics"
	"ampos-license-server/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

type RateLimitConfig struct {
	Requests int64
	Period   time.Duration
	Prefix   string
}

// NewRateLimiter builds a fixed-window limiter keyed by caller. With a nil
// client the counters live in process memory, so each instance enforces its
// own window; pass a redis client to share the window across instances.
func NewRateLimiter(cfg RateLimitConfig, client redis.UniversalClient) (*limiter.Limiter, error) {
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", cfg.Requests)
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "license:ratelimit:"
	}

	rate := limiter.Rate{Period: cfg.Period, Limit: cfg.Requests}

	if client == nil {
		store := memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          cfg.Prefix,
			CleanUpInterval: cfg.Period,
		})
		return limiter.New(store, rate), nil
	}

	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   cfg.Prefix,
		MaxRetry: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
	}

	return limiter.New(store, rate), nil
}

type rateLimitedBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Valid   bool   `json:"valid"`
}

// RateLimitMiddleware rejects callers over their window with 429. A failing
// store lets the request through; verification must not depend on it.
func RateLimitMiddleware(lim *limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetClientIP(r)

			lctx, err := lim.Get(r.Context(), key)
			if err != nil {
				logger.Error("rate limiter unavailable", "ip", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

			if lctx.Reached {
				metrics.RateLimitedTotal.Inc()
				logger.Warn("rate limit exceeded", "ip", key, "path", r.URL.Path)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(rateLimitedBody{
					Success: false,
					Error:   "Rate limit exceeded. Too many requests.",
					Valid:   false,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
