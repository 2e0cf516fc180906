// Package ratelimit provides the per-venue command token bucket:
// 10 tokens/s refill, burst of 10.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	perSecond = 10
	burst     = 10
)

// Limiter holds one token bucket per venue.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token from the venue's bucket, reporting whether
// the command may proceed.
func (l *Limiter) Allow(venueID string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[venueID]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(perSecond), burst)
		l.buckets[venueID] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}

// Forget releases the bucket for a deleted venue.
func (l *Limiter) Forget(venueID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, venueID)
}
