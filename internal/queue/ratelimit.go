package queue

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitedError is returned synchronously when a user exceeds the window.
type RateLimitedError struct {
	Key        string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %d requests per %s exceeded, retry after %s",
		e.Limit, e.Window, e.RetryAfter.Round(time.Millisecond))
}

// RateLimitConfig configures the sliding window.
type RateLimitConfig struct {
	// MaxRequests per Window per key. Zero disables limiting.
	MaxRequests int
	Window      time.Duration

	// SweepInterval is how often idle keys are dropped once Start is called.
	SweepInterval time.Duration
}

// RateLimiter is an in-memory per-key sliding window limiter.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time

	runMu   sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
}

// NewRateLimiter creates a limiter. now may be nil.
func NewRateLimiter(cfg RateLimitConfig, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &RateLimiter{
		cfg:  cfg,
		now:  now,
		hits: make(map[string][]time.Time),
	}
}

// Allow records a request for key or returns *RateLimitedError.
func (l *RateLimiter) Allow(key string) error {
	if l == nil || l.cfg.MaxRequests <= 0 || l.cfg.Window <= 0 {
		return nil
	}

	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.hits[key], cutoff)
	if len(recent) >= l.cfg.MaxRequests {
		l.hits[key] = recent
		return &RateLimitedError{
			Key:        key,
			Limit:      l.cfg.MaxRequests,
			Window:     l.cfg.Window,
			RetryAfter: recent[0].Add(l.cfg.Window).Sub(now),
		}
	}

	l.hits[key] = append(recent, now)
	return nil
}

// Sweep drops keys with no hits inside the window and returns how many were removed.
func (l *RateLimiter) Sweep() int {
	cutoff := l.now().Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, hits := range l.hits {
		recent := prune(hits, cutoff)
		if len(recent) == 0 {
			delete(l.hits, key)
			removed++
			continue
		}
		l.hits[key] = recent
	}

	return removed
}

// Tracked returns the number of keys currently held.
func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Start launches the periodic sweep. Calling it again while running is a no-op.
func (l *RateLimiter) Start() {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.stopCh != nil {
		return
	}

	stopCh := make(chan struct{})
	stopped := make(chan struct{})
	l.stopCh = stopCh
	l.stopped = stopped

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(l.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Stop halts the sweep and waits for it to exit. Safe to call repeatedly.
func (l *RateLimiter) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	<-l.stopped
	l.stopCh = nil
	l.stopped = nil
}

// Running reports whether the sweep goroutine is active.
func (l *RateLimiter) Running() bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.stopCh != nil
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append([]time.Time(nil), hits[i:]...)
}
