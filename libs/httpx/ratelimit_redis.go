package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Quota is a per-caller budget per window. Reads are calendar queries (GET, HEAD); Writes
// are every other method. A Writes of zero shares the Reads budget.
type Quota struct {
	Reads  int
	Writes int
	Window time.Duration
}

func (q Quota) limitFor(class string) int {
	if class == "write" && q.Writes > 0 {
		return q.Writes
	}
	return q.Reads
}

// RedisRateLimiter counts requests per caller and class in Redis, so every replica of the
// service draws from one budget.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	quota  Quota
	prefix string
	logger *slog.Logger
}

// KEYS[1] counter; ARGV[1] window in ms. Returns {count, ms until the window resets}.
var quotaScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

func NewRedisRateLimiter(rdb redis.Scripter, quota Quota, prefix string, logger *slog.Logger) *RedisRateLimiter {
	if quota.Reads <= 0 {
		quota.Reads = 600
	}
	if quota.Window <= 0 {
		quota.Window = time.Minute
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, quota: quota, prefix: prefix, logger: logger}
}

// Middleware rejects callers over budget with 429 and a Retry-After matching the window's
// remaining time. A Redis failure lets the request through.
func (rl *RedisRateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := requestClass(r)
			limit := rl.quota.limitFor(class)
			count, reset, err := rl.take(r.Context(), rl.prefix+":"+class+":"+clientKey(r))
			if err != nil {
				rl.logger.Warn("rate limiter unavailable, allowing request", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(limit)-count, 0), 10))
			if count > int64(limit) {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(reset)))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) take(ctx context.Context, key string) (int64, time.Duration, error) {
	res, err := quotaScript.Run(ctx, rl.rdb, []string{key}, rl.quota.Window.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("quota script returned %d values", len(res))
	}
	count, ok1 := res[0].(int64)
	ttl, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("quota script returned %T, %T", res[0], res[1])
	}
	return count, time.Duration(ttl) * time.Millisecond, nil
}

func requestClass(r *http.Request) string {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return "read"
	}
	return "write"
}

// retryAfterSeconds rounds up so a client never retries inside the current window.
func retryAfterSeconds(reset time.Duration) int {
	secs := int((reset + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
