package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process token bucket used when Redis is not configured.
// Buckets are per instance, so several replicas each get the full budget.
type LocalLimiter struct {
	mu       sync.Mutex
	buckets  map[string]BucketConfig
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewLocalLimiter builds a limiter over the given bucket configs.
func NewLocalLimiter(buckets map[string]BucketConfig) *LocalLimiter {
	cp := make(map[string]BucketConfig, len(buckets))
	for k, v := range buckets {
		cp[k] = v
	}
	return &LocalLimiter{buckets: cp, limiters: make(map[string]*rate.Limiter), now: time.Now}
}

// Allow spends cost tokens from key's bucket. Unknown keys allow.
func (l *LocalLimiter) Allow(_ context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil {
		return true, 0, nil
	}
	lim := l.limiter(key)
	if lim == nil {
		return true, 0, nil
	}
	now := l.now()
	r := lim.ReserveN(now, int(cost))
	if !r.OK() {
		// cost larger than the burst can never be satisfied
		return false, 0, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d, nil
	}
	return true, 0, nil
}

func (l *LocalLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	cfg, ok := l.buckets[key]
	if !ok || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Limit(cfg.RefillRate), int(cfg.Capacity))
	l.limiters[key] = lim
	return lim
}
