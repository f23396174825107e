package fraud

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter bounds accepted clicks per client identifier. IsLimited is
// checked before billing; Record runs only after a click is accepted, so
// rejected traffic never consumes budget.
type RateLimiter interface {
	IsLimited(ctx context.Context, clientID string) bool
	Record(ctx context.Context, clientID string)
}

// WindowLimit is one parsed limit, e.g. 3 per 5 minutes.
type WindowLimit struct {
	Count  int64
	Window time.Duration
}

func (w WindowLimit) String() string {
	return fmt.Sprintf("%d/%s", w.Count, w.Window)
}

// ParseLimits parses a comma-separated limit spec such as
// "1/1m,3/10m,10/1h,25/24h". Shorthand units s, m, h and d are accepted
// alongside full time.ParseDuration syntax.
func ParseLimits(spec string) ([]WindowLimit, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	var limits []WindowLimit
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		count, window, found := strings.Cut(part, "/")
		if !found {
			return nil, fmt.Errorf("invalid rate limit %q: expected count/window", part)
		}

		n, err := strconv.ParseInt(count, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid rate limit count %q", count)
		}

		d, err := parseWindow(window)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit window %q: %w", window, err)
		}

		limits = append(limits, WindowLimit{Count: n, Window: d})
	}
	return limits, nil
}

func parseWindow(s string) (time.Duration, error) {
	// "d" is not a time.ParseDuration unit but common in limit specs.
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	return d, nil
}

// RedisRateLimiter counts accepted clicks in fixed windows. Each limit gets
// its own counter keyed by the window bucket; INCR and EXPIRE run in one
// pipeline. Redis errors fail open so a cache outage cannot block billing.
type RedisRateLimiter struct {
	client *redis.Client
	limits []WindowLimit
	logger *zap.Logger
}

// NewRedisRateLimiter creates a Redis-backed click rate limiter.
func NewRedisRateLimiter(client *redis.Client, limits []WindowLimit, logger *zap.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limits: limits,
		logger: logger,
	}
}

func (r *RedisRateLimiter) key(clientID string, limit WindowLimit, now time.Time) string {
	windowSecs := int64(limit.Window.Seconds())
	bucket := now.Unix() / windowSecs
	return fmt.Sprintf("ratelimit:click:%s:%d:%d", clientID, windowSecs, bucket)
}

func (r *RedisRateLimiter) IsLimited(ctx context.Context, clientID string) bool {
	now := time.Now()
	for _, limit := range r.limits {
		count, err := r.client.Get(ctx, r.key(clientID, limit, now)).Int64()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			r.logger.Warn("rate limit check unavailable, failing open",
				zap.String("client_id", clientID),
				zap.Error(err),
			)
			return false
		}
		if count >= limit.Count {
			return true
		}
	}
	return false
}

func (r *RedisRateLimiter) Record(ctx context.Context, clientID string) {
	now := time.Now()
	pipe := r.client.Pipeline()
	for _, limit := range r.limits {
		key := r.key(clientID, limit, now)
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, limit.Window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("failed to record click for rate limiting",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
	}
}

// MemoryRateLimiter is an in-memory sliding window limiter for development
// and testing.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	limits  []WindowLimit
	clicks  map[string][]time.Time
	longest time.Duration
}

// NewMemoryRateLimiter creates an in-memory click rate limiter.
func NewMemoryRateLimiter(limits []WindowLimit) *MemoryRateLimiter {
	var longest time.Duration
	for _, l := range limits {
		if l.Window > longest {
			longest = l.Window
		}
	}
	return &MemoryRateLimiter{
		limits:  limits,
		clicks:  make(map[string][]time.Time),
		longest: longest,
	}
}

func (m *MemoryRateLimiter) IsLimited(ctx context.Context, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	times := m.pruneLocked(clientID, now)

	for _, limit := range m.limits {
		cutoff := now.Add(-limit.Window)
		var count int64
		for _, t := range times {
			if t.After(cutoff) {
				count++
			}
		}
		if count >= limit.Count {
			return true
		}
	}
	return false
}

func (m *MemoryRateLimiter) Record(ctx context.Context, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	times := m.pruneLocked(clientID, now)
	m.clicks[clientID] = append(times, now)
}

// pruneLocked drops timestamps older than the longest window.
func (m *MemoryRateLimiter) pruneLocked(clientID string, now time.Time) []time.Time {
	times := m.clicks[clientID]
	cutoff := now.Add(-m.longest)

	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) == 0 {
		delete(m.clicks, clientID)
		return nil
	}
	m.clicks[clientID] = kept
	return kept
}
