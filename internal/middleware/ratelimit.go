package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sentilytics/sentilytics/internal/metrics"
)

// KeyFunc names the caller a request is counted against. An empty result
// falls back to the client IP.
type KeyFunc func(r *http.Request) string

// RateLimiter is a sliding-window limiter backed by a Redis sorted set per
// caller. Each limiter counts under its own scope so route groups do not
// share budgets.
type RateLimiter struct {
	client  redis.Cmdable
	scope   string
	maxReqs int
	window  time.Duration
	keyFunc KeyFunc
}

type RateLimitOption func(*RateLimiter)

// WithKeyFunc counts requests per caller identity instead of per IP.
func WithKeyFunc(fn KeyFunc) RateLimitOption {
	return func(rl *RateLimiter) { rl.keyFunc = fn }
}

// NewRateLimiter allows maxReqs per windowSec seconds for each caller.
func NewRateLimiter(client redis.Cmdable, scope string, maxReqs, windowSec int, opts ...RateLimitOption) *RateLimiter {
	rl := &RateLimiter{
		client:  client,
		scope:   scope,
		maxReqs: maxReqs,
		window:  time.Duration(windowSec) * time.Second,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// slidingWindowScript trims expired entries and admits the request only when
// the window has room. Rejected requests are not recorded.
// Returns {allowed, remaining}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
  return {0, 0}
end
redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window + 1000)
return {1, limit - count - 1}
`)

// Middleware enforces the limit. On Redis errors it fails open.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := rl.caller(r)

		allowed, remaining, err := rl.allow(r.Context(), "ratelimit:"+rl.scope+":"+caller)
		if err != nil {
			slog.Warn("rate limiter: redis error, failing open", "error", err, "caller", caller, "scope", rl.scope)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.maxReqs))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(rl.scope).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) caller(r *http.Request) string {
	if rl.keyFunc != nil {
		if k := rl.keyFunc(r); k != "" {
			return k
		}
	}
	return "ip:" + clientIP(r)
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, int, error) {
	res, err := slidingWindowScript.Run(ctx, rl.client, []string{key},
		time.Now().UnixMilli(), rl.window.Milliseconds(), rl.maxReqs, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("running rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply length %d", len(res))
	}
	return res[0] == 1, int(res[1]), nil
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For is set by the trusted reverse proxy; the first entry is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
