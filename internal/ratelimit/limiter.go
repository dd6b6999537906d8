package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/SonGiHyeon/CV-API/internal/monitoring"
	"github.com/SonGiHyeon/CV-API/internal/resilience"
)

// Config holds rate limiter configuration
type Config struct {
	IPLimitPerMin   int
	BurstMultiplier int
	// Breaker guards the Redis round trip
	Breaker resilience.CircuitBreakerConfig
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		IPLimitPerMin:   120,
		BurstMultiplier: 2,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  15 * time.Second,
		},
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Fallback   bool
}

type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP. Redis is used when reachable
// and an in-memory token bucket takes over when it is not.
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	breaker      *resilience.CircuitBreaker
	config       Config
	metrics      *monitoring.Metrics

	fallbackLimiters map[string]*fallbackEntry
	fallbackMutex    sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its idle-key janitor.
// Callers must Close it.
func NewRateLimiter(redisClient *RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	if config.IPLimitPerMin <= 0 {
		config.IPLimitPerMin = DefaultConfig().IPLimitPerMin
	}
	if config.BurstMultiplier <= 0 {
		config.BurstMultiplier = 1
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		breaker:          resilience.NewCircuitBreaker(config.Breaker),
		config:           config,
		metrics:          metrics,
		fallbackLimiters: make(map[string]*fallbackEntry),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	if redisClient != nil && redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Rate limiter initialized with Redis backend")
	} else {
		slog.Warn("Rate limiter initialized with in-memory fallback only")
	}

	go rl.cleanupFallbackLimiters(5*time.Minute, 10*time.Minute)

	return rl
}

// AllowIP checks the per-minute budget of one client IP
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	key := fmt.Sprintf("ratelimit:ip:%s", ip)
	res, err := rl.allow(ctx, key, rl.config.IPLimitPerMin, time.Minute)
	if err == nil && !res.Allowed && rl.metrics != nil {
		rl.metrics.IncrementRateLimitIPBlock()
	}
	return res, err
}

func (rl *RateLimiter) allow(ctx context.Context, key string, limit int, period time.Duration) (*Result, error) {
	if rl.redisLimiter == nil {
		return rl.allowFallback(key, limit, period), nil
	}

	var res *Result
	err := rl.breaker.Call(func() error {
		var callErr error
		res, callErr = rl.allowRedis(ctx, key, limit, period)
		return callErr
	})
	if err == nil {
		return res, nil
	}

	if err != resilience.ErrCircuitOpen {
		slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
		if rl.metrics != nil {
			rl.metrics.IncrementRateLimitRedisError()
		}
	}
	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitFallback()
	}
	return rl.allowFallback(key, limit, period), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, limit int, period time.Duration) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit,
		Burst:  limit,
		Period: period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      limit,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

func (rl *RateLimiter) allowFallback(key string, limit int, period time.Duration) *Result {
	now := time.Now()

	rl.fallbackMutex.Lock()
	entry, ok := rl.fallbackLimiters[key]
	if !ok {
		rps := rate.Limit(float64(limit) / period.Seconds())
		burst := limit * rl.config.BurstMultiplier
		if burst < 5 {
			burst = 5
		}
		entry = &fallbackEntry{limiter: rate.NewLimiter(rps, burst)}
		rl.fallbackLimiters[key] = entry
	}
	entry.lastSeen = now
	rl.fallbackMutex.Unlock()

	limiter := entry.limiter
	allowed := limiter.AllowN(now, 1)

	remaining := int(limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	res := &Result{
		Allowed:   allowed,
		Limit:     limiter.Burst(),
		Remaining: remaining,
		ResetAt:   now.Add(period),
		Fallback:  true,
	}
	if !allowed {
		missing := 1 - limiter.TokensAt(now)
		res.RetryAfter = time.Duration(missing / float64(limiter.Limit()) * float64(time.Second))
		res.ResetAt = now.Add(res.RetryAfter)
	}
	return res
}

// Reset forgets the budget of one IP
func (rl *RateLimiter) Reset(ctx context.Context, ip string) error {
	key := fmt.Sprintf("ratelimit:ip:%s", ip)

	rl.fallbackMutex.Lock()
	delete(rl.fallbackLimiters, key)
	rl.fallbackMutex.Unlock()

	if rl.redisLimiter == nil {
		return nil
	}
	return rl.breaker.Call(func() error {
		return rl.redisLimiter.Reset(ctx, key)
	})
}

func (rl *RateLimiter) cleanupFallbackLimiters(interval, idle time.Duration) {
	defer close(rl.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.evictIdle(now, idle)
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time, idle time.Duration) int {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	evicted := 0
	for key, entry := range rl.fallbackLimiters {
		if now.Sub(entry.lastSeen) > idle {
			delete(rl.fallbackLimiters, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("Evicted idle fallback limiters", "count", evicted)
	}
	return evicted
}

// Close stops the janitor goroutine
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.Unlock()

	return map[string]interface{}{
		"redis_enabled":     rl.redisLimiter != nil,
		"breaker_state":     rl.breaker.State().String(),
		"fallback_limiters": fallbackCount,
		"ip_limit_per_min":  rl.config.IPLimitPerMin,
		"burst_multiplier":  rl.config.BurstMultiplier,
	}
}
