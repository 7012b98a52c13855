package node

import (
	"sync"
	"time"
)

// Limiter is a fixed-window rate limiter over sender buckets. It owns its
// counters and reset timestamp and takes its clock by injection; nothing
// here is process-global.
//
// Counters are process-local and in memory: concurrently running node
// instances each enforce their own quota. That is a known scaling
// limitation of the design, not something this type tries to hide.
type Limiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	counters map[string]int
	resetAt  time.Time
	now      func() time.Time
}

// NewLimiter creates a limiter admitting limit operations per bucket per
// window.
func NewLimiter(window time.Duration, limit int, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		window:   window,
		limit:    limit,
		counters: make(map[string]int),
		resetAt:  now().Add(window),
		now:      now,
	}
}

// Allow admits the operation if any of its sender buckets is still under
// the limit, charging the first such bucket. Only when every bucket is over
// quota is the operation refused.
func (l *Limiter) Allow(buckets []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now := l.now(); !now.Before(l.resetAt) {
		l.counters = make(map[string]int)
		l.resetAt = now.Add(l.window)
	}

	for _, b := range buckets {
		if l.counters[b] < l.limit {
			l.counters[b]++
			return true
		}
	}
	return false
}
