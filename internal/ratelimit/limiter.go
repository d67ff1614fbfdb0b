// Package ratelimit implements a Redis-backed fixed window limiter shared by
// every replica of the service.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "bookstore:ratelimit"

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Rule caps requests per key within one window for a named scope.
type Rule struct {
	Scope  string
	Limit  int
	Window time.Duration
}

// Enabled reports whether the rule limits anything.
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests in Redis.
type Limiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New wraps an existing Redis client.
func New(client redis.UniversalClient, prefix string) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Limiter{client: client, prefix: prefix, now: time.Now}, nil
}

// NewRedis dials Redis at addr and returns a limiter owning the client.
func NewRedis(addr, password, prefix string) (*Limiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), prefix)
}

// Ping checks the Redis connection.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (l *Limiter) Close() error {
	return l.client.Close()
}

// Allow counts one request for key under rule. Disabled rules always allow.
// On Redis failures it fails closed: the request is denied and the error
// returned for logging.
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) (Decision, error) {
	if !rule.Enabled() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := rule.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond
	redisKey := fmt.Sprintf("%s:%s:%s:%d", l.prefix, rule.Scope, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return Decision{Allowed: false, RetryAfter: retryAfter}, fmt.Errorf("rate limit %s: %w", rule.Scope, err)
	}
	if count > int64(rule.Limit) {
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true, Remaining: rule.Limit - int(count)}, nil
}
