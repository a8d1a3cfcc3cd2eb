package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter bounds the outbound API request rate within a rolling window.
type Limiter interface {
	// Admit blocks until it is safe to issue another request. It only
	// fails when the context is cancelled.
	Admit(ctx context.Context) error
	// Record marks that a request was just issued.
	Record()
	// InWindow returns the number of requests inside the current window.
	InWindow() int
	// Reset clears all recorded requests.
	Reset()
}

// SlidingWindow implements a sliding-window rate limiter with a randomized
// post-admission delay to break uniform request cadence.
type SlidingWindow struct {
	window      time.Duration
	maxRequests int
	jitterMin   time.Duration
	jitterMax   time.Duration

	mu         sync.Mutex
	timestamps []time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindow creates a sliding-window limiter admitting at most
// maxRequests per window. Jitter defaults to the 0.5-5s range.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window:      window,
		maxRequests: maxRequests,
		jitterMin:   500 * time.Millisecond,
		jitterMax:   5 * time.Second,
		timestamps:  make([]time.Time, 0, maxRequests),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// SetJitter overrides the randomized delay range applied after admission.
// A zero max disables the delay entirely.
func (sw *SlidingWindow) SetJitter(min, max time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.jitterMin = min
	sw.jitterMax = max
}

// Admit blocks until issuing another request keeps the window under its
// budget, then applies the jitter delay. The mutex is held across the wait
// so waiting callers queue instead of re-checking a stale window.
func (sw *SlidingWindow) Admit(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.prune(now)

	if len(sw.timestamps) >= sw.maxRequests {
		wait := sw.timestamps[0].Add(sw.window).Sub(now)
		if wait > 0 {
			if err := sw.sleep(ctx, wait); err != nil {
				return err
			}
		}
		sw.prune(sw.now())
	}

	if delay := sw.jitter(); delay > 0 {
		if err := sw.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// Record appends the current instant to the window.
func (sw *SlidingWindow) Record() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.timestamps = append(sw.timestamps, sw.now())
}

// InWindow returns the number of recorded requests still inside the window.
func (sw *SlidingWindow) InWindow() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	return len(sw.timestamps)
}

// Reset clears all recorded requests.
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.timestamps = sw.timestamps[:0]
}

// prune drops timestamps older than now-window. Callers hold the mutex.
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)

	i := 0
	for i < len(sw.timestamps) && sw.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(sw.timestamps, sw.timestamps[i:])
		sw.timestamps = sw.timestamps[:len(sw.timestamps)-i]
	}
}

// jitter picks a uniform random delay in [jitterMin, jitterMax].
func (sw *SlidingWindow) jitter() time.Duration {
	if sw.jitterMax <= 0 {
		return 0
	}
	spread := sw.jitterMax - sw.jitterMin
	if spread <= 0 {
		return sw.jitterMin
	}
	return sw.jitterMin + time.Duration(rand.Int63n(int64(spread)))
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
