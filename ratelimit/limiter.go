// Package ratelimit implements fixed-window request limits keyed by client
// address, and the middleware chain that applies them per route.
package ratelimit

import (
	"sync"
	"time"
)

// Policy is a named window and the number of requests allowed in it
type Policy struct {
	Name    string
	Window  time.Duration
	Limit   int
	Message string
}

var (
	// GeneralPolicy applies to every request
	GeneralPolicy = Policy{
		Name:    "general",
		Window:  15 * time.Minute,
		Limit:   100,
		Message: "Too many requests from this IP, please try again later.",
	}

	// AuthPolicy additionally applies to login attempts
	AuthPolicy = Policy{
		Name:    "auth",
		Window:  time.Hour,
		Limit:   5,
		Message: "Too many login attempts from this IP, please try again after an hour.",
	}
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Limit     int
	Count     int
	Remaining int
	ResetAt   time.Time
}

type bucket struct {
	count int
	start time.Time
}

// Limiter counts requests per key within fixed windows of one policy
type Limiter struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(policy Policy, opts ...Option) *Limiter {
	l := &Limiter{
		policy:  policy,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the limiter's policy
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Now returns the limiter's current time
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Allow counts one request for key. A window starts at the first request and
// ends Window later; the request that pushes the count past Limit is rejected.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{start: now}
		l.buckets[key] = b
	} else if !now.Before(b.start.Add(l.policy.Window)) {
		b.count = 0
		b.start = now
	}
	b.count++
	count, start := b.count, b.start
	l.mu.Unlock()

	remaining := l.policy.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= l.policy.Limit,
		Limit:     l.policy.Limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   start.Add(l.policy.Window),
	}
}

// Sweep drops buckets whose window has ended by now and returns how many remain
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if !now.Before(b.start.Add(l.policy.Window)) {
			delete(l.buckets, key)
		}
	}
	return len(l.buckets)
}

// Len reports the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
