package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an authenticated caller may make another
// request.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// LimitError is returned when a caller is over its rate. It matches
// ErrTooManyRequests with errors.Is.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrTooManyRequests, e.RetryAfter.Round(time.Second))
}

// Unwrap returns ErrTooManyRequests.
func (e *LimitError) Unwrap() error {
	return ErrTooManyRequests
}

// idleBucketTTL is how long an unused bucket is kept before it may be
// swept.
const idleBucketTTL = 10 * time.Minute

// TierLimiter gives every subject a token bucket refilled at its tier's
// requests-per-minute. The burst equals the per-minute rate, so a fresh
// caller may spend a full minute's allowance at once.
type TierLimiter struct {
	tiers      map[string]int
	defaultRPM int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTierLimiter creates a limiter. tiers maps a tier name to requests per
// minute; subjects in other tiers get defaultRPM. A rate of zero or less
// means unlimited.
func NewTierLimiter(tiers map[string]int, defaultRPM int) *TierLimiter {
	return &TierLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		buckets:    make(map[string]*bucket),
		lastSweep:  time.Now(),
	}
}

// Allow takes one token from the caller's bucket.
func (l *TierLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}
	rpm, ok := l.tiers[tier]
	if !ok {
		rpm = l.defaultRPM
	}
	if rpm <= 0 {
		return nil
	}

	now := time.Now()
	l.mu.Lock()
	key := tier + "/" + identity.Subject
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if now.Sub(l.lastSweep) > idleBucketTTL {
		l.sweep(now)
	}
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &LimitError{RetryAfter: delay}
	}
	return nil
}

func (l *TierLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleBucketTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
