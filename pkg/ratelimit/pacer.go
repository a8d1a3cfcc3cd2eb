package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Rest-break tuning. The break interval is re-rolled after every break
// so sustained runs never pause on a fixed period.
const (
	breakAfterMin = 50
	breakAfterMax = 80

	breakDurationMin = 10 * time.Second
	breakDurationMax = 30 * time.Second
)

// Pacer inserts long rest pauses into sustained fetching: after every
// 50-80 processed items the caller is suspended for 10-30 seconds. The
// short per-request jitter lives in the limiter; the Pacer covers the
// longer idle stretches a human session shows. Runs egressing through a
// proxy skip breaks entirely.
type Pacer struct {
	disabled bool

	mu        sync.Mutex
	processed int
	nextBreak int

	// Injectable for tests.
	rng   func(n int64) int64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a Pacer. A disabled Pacer never pauses.
func NewPacer(disabled bool) *Pacer {
	p := &Pacer{
		disabled: disabled,
		rng:      rand.Int63n,
		sleep:    sleepContext,
	}
	p.nextBreak = p.rollInterval()
	return p
}

// Processed records n more handled items and takes the rest pause when
// the accumulated count crosses the break threshold. It only fails when
// the context is cancelled during a pause.
func (p *Pacer) Processed(ctx context.Context, n int) error {
	if p.disabled || n <= 0 {
		return nil
	}

	p.mu.Lock()
	p.processed += n
	if p.processed < p.nextBreak {
		p.mu.Unlock()
		return nil
	}
	p.processed = 0
	p.nextBreak = p.rollInterval()
	d := breakDurationMin + time.Duration(p.rng(int64(breakDurationMax-breakDurationMin)))
	p.mu.Unlock()

	return p.sleep(ctx, d)
}

// rollInterval picks the item count until the next break. Callers hold
// the mutex (or own the Pacer exclusively, as NewPacer does).
func (p *Pacer) rollInterval() int {
	return breakAfterMin + int(p.rng(int64(breakAfterMax-breakAfterMin+1)))
}
