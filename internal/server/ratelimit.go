package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	ConvertLimit  int
	ConvertWindow time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration
}

// convertStore counts conversion attempts per key across a fixed window.
// Implementations back the per-IP throttle when the process is replicated.
type convertStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Ping(ctx context.Context) error
}

type rateLimiter struct {
	global         *rate.Limiter
	convertLimit   int
	convertWindow  time.Duration
	convertMu      sync.Mutex
	convertBuckets map[string]*ipLimiter
	store          convertStore
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		convertLimit:   cfg.ConvertLimit,
		convertWindow:  cfg.ConvertWindow,
		convertBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.convertWindow <= 0 {
		rl.convertWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.convertLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		store, err := newRedisStore(redisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("configure redis store: %w", err)
		}
		rl.store = store
	}
	return rl, nil
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowConvert(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.convertLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, fmt.Sprintf("yt2mp3:convert:%s", key), r.convertLimit, r.convertWindow)
	}

	r.convertMu.Lock()
	bucket, exists := r.convertBuckets[key]
	if !exists {
		limit := rate.Limit(float64(r.convertLimit) / r.convertWindow.Seconds())
		bucket = &ipLimiter{limiter: rate.NewLimiter(limit, r.convertLimit)}
		r.convertBuckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.convertMu.Unlock()

	if bucket.limiter.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

// Ping reports redis connectivity when a store is configured. A limiter
// running purely in memory is always healthy.
func (r *rateLimiter) Ping(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.convertBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.convertWindow)
	for key, bucket := range r.convertBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.convertBuckets, key)
		}
	}
}
