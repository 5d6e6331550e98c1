package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unuxt/unuxt/pkg/httputil"
	"github.com/unuxt/unuxt/pkg/observability"
)

// RateLimiter is a fixed-window limiter backed by Redis so the limit is
// shared across instances. Redis being down fails open: a rate limiter
// outage must not take authentication down with it.
type RateLimiter struct {
	redis    *redis.Client
	window   time.Duration
	requests int
	prefix   string
	logger   *observability.Logger
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(redisClient *redis.Client, window time.Duration, requests int, logger *observability.Logger) *RateLimiter {
	return &RateLimiter{
		redis:    redisClient,
		window:   window,
		requests: requests,
		prefix:   "ratelimit",
		logger:   logger,
	}
}

// Allow reports whether the request identified by key is within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.WithError(err).Warn("rate limiter unavailable, allowing request")
		return true
	}

	return incr.Val() <= int64(rl.requests)
}

// Handler wraps sensitive routes with per-caller rate limiting. The key is
// the user ID for authenticated requests and the client IP otherwise.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + httputil.ClientIP(r)
		if info := SessionFromContext(r.Context()); info != nil {
			key = "user:" + info.UserID
		}

		if !rl.Allow(r.Context(), key) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
