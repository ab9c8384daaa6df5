// middleware/ratelimit.go
package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"endgame-arena/metrics"
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type entry struct {
	count     int
	windowEnd time.Time
}

// MemoryLimiter is a per-process fixed-window limiter.
type MemoryLimiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	max       int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*entry),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	e, ok := m.entries[key]
	if !ok || !now.Before(e.windowEnd) {
		e = &entry{windowEnd: now.Add(m.window)}
		m.entries[key] = e
	}
	e.count++
	return Decision{
		Allowed:   e.count <= m.max,
		Limit:     m.max,
		Remaining: max(m.max-e.count, 0),
		ResetAt:   e.windowEnd,
	}, nil
}

// sweep drops expired windows at most once per window length.
func (m *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.window {
		return
	}
	m.lastSweep = now
	for k, e := range m.entries {
		if !now.Before(e.windowEnd) {
			delete(m.entries, k)
		}
	}
}

// RedisLimiter shares windows across replicas. Windows are aligned to
// multiples of the window length.
type RedisLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, max: max, window: window, prefix: prefix, now: time.Now}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	start := now.Truncate(r.window)
	reset := start.Add(r.window)
	k := fmt.Sprintf("ratelimit:%s:%s:%d", r.prefix, key, start.Unix())

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireAt(ctx, k, reset.Add(time.Second))
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}
	count := int(incr.Val())
	return Decision{
		Allowed:   count <= r.max,
		Limit:     r.max,
		Remaining: max(r.max-count, 0),
		ResetAt:   reset,
	}, nil
}

// NewLimiter picks Redis when a client is available.
func NewLimiter(rdb *redis.Client, policy string, max int, window time.Duration) Limiter {
	if rdb != nil {
		return NewRedisLimiter(rdb, policy, max, window)
	}
	return NewMemoryLimiter(max, window)
}

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(c *fiber.Ctx) string

// KeyByIP limits by client address.
func KeyByIP(c *fiber.Ctx) string {
	return "ip:" + c.IP()
}

// KeyByAgent limits by authenticated agent, falling back to the client IP.
func KeyByAgent(c *fiber.Ctx) string {
	if p := Principal(c); p != nil {
		return "agent:" + p.AgentID
	}
	return KeyByIP(c)
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// failures let the request through.
func RateLimit(policy string, l Limiter, keyFn KeyFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		d, err := l.Allow(c.UserContext(), keyFn(c))
		if err != nil {
			log.Warn().Err(err).Str("policy", policy).Msg("[RATELIMIT] limiter unavailable, allowing request")
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retryAfter := int(time.Until(d.ResetAt).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			metrics.RateLimited.WithLabelValues(policy).Inc()
			return services.Errorf(services.KindRateLimited, "too many requests, try again in %d seconds", retryAfter)
		}
		return c.Next()
	}
}
