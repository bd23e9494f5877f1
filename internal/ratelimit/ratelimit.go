// Package ratelimit provides fixed-window request limiters for the public
// signup endpoints.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"
)

// Limiter reports whether one more request for key fits the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

const rateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// RedisLimiter shares its windows between every instance using the same
// Redis. It fails open when Redis is unreachable.
type RedisLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	script *redis.Script
}

func NewRedisLimiter(client redis.Scripter, limit int, window time.Duration, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		script: redis.NewScript(rateLimitScript),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	if key == "" || l.limit <= 0 || l.window <= 0 {
		return true
	}
	redisKey := key
	if l.prefix != "" {
		redisKey = l.prefix + ":" + key
	}
	ttl := l.window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	allowed, err := l.script.Run(ctx, l.client, []string{redisKey}, ttl, l.limit).Int64()
	if err != nil {
		return true
	}
	return allowed == 1
}

// MemoryLimiter keeps windows in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clock   clock.PassiveClock
	buckets map[string]*bucket
	pruneAt time.Time
}

type bucket struct {
	count     int
	windowEnd time.Time
}

func NewMemoryLimiter(limit int, window time.Duration, clk clock.PassiveClock) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		clock:   clk,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) bool {
	if key == "" || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	b, ok := l.buckets[key]
	if !ok || now.After(b.windowEnd) {
		l.buckets[key] = &bucket{count: 1, windowEnd: now.Add(l.window)}
		return true
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

// prune drops finished windows at most once per window.
func (l *MemoryLimiter) prune(now time.Time) {
	if now.Before(l.pruneAt) {
		return
	}
	for key, b := range l.buckets {
		if now.After(b.windowEnd) {
			delete(l.buckets, key)
		}
	}
	l.pruneAt = now.Add(l.window)
}
