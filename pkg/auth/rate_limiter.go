package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter provides rate limiting functionality
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// SlidingWindowLimiter admits at most limit requests per key in any window
type SlidingWindowLimiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	limit      int
	windowSize time.Duration
	now        func() time.Time
}

type window struct {
	mu       sync.Mutex
	requests []time.Time
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter
func NewSlidingWindowLimiter(limit int, windowSize time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		windows:    make(map[string]*window),
		limit:      limit,
		windowSize: windowSize,
		now:        time.Now,
	}
}

// NewPerMinuteLimiter creates a sliding window limiter over one minute
func NewPerMinuteLimiter(requestsPerMinute int) *SlidingWindowLimiter {
	return NewSlidingWindowLimiter(requestsPerMinute, time.Minute)
}

// Allow checks if a request is allowed
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	start := now.Add(-l.windowSize)
	kept := w.requests[:0]
	for _, at := range w.requests {
		if at.After(start) {
			kept = append(kept, at)
		}
	}
	w.requests = kept

	if len(w.requests) >= l.limit {
		return false, nil
	}
	w.requests = append(w.requests, now)
	return true, nil
}

// Reset resets the rate limit for a key
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// Prune drops keys with no request inside the current window
func (l *SlidingWindowLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.now().Add(-l.windowSize)
	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		idle := len(w.requests) == 0 || !w.requests[len(w.requests)-1].After(start)
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// KeyedLimiter namespaces the keys of another limiter, such as "ip:" or "user:"
type KeyedLimiter struct {
	prefix  string
	limiter RateLimiter
}

// NewIPRateLimiter limits by client address
func NewIPRateLimiter(limiter RateLimiter) *KeyedLimiter {
	return &KeyedLimiter{prefix: "ip:", limiter: limiter}
}

// NewUserRateLimiter limits by authenticated user
func NewUserRateLimiter(limiter RateLimiter) *KeyedLimiter {
	return &KeyedLimiter{prefix: "user:", limiter: limiter}
}

// Allow implements RateLimiter
func (l *KeyedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.limiter.Allow(ctx, l.prefix+key)
}

// Reset implements RateLimiter
func (l *KeyedLimiter) Reset(ctx context.Context, key string) error {
	return l.limiter.Reset(ctx, l.prefix+key)
}
