package client

import (
	"context"
	"errors"
	"time"

	"mediafetch/pkg/config"
	apierrors "mediafetch/pkg/errors"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/proxy"
	"mediafetch/pkg/ratelimit"
	"mediafetch/pkg/retry"
)

// poolRetryAfter replaces the server-suggested wait when a rotating pool
// is active: the next attempt leaves from a different egress identity, so
// there is no point sitting out the full penalty.
const poolRetryAfter = time.Second

// AttemptFunc performs one metadata API request. Returned errors are
// classified via the taxonomy in pkg/errors; anything unclassified counts
// as transient. The function must be safe to invoke multiple times.
type AttemptFunc func(ctx context.Context) error

// Caller wraps a single API call with the full protocol: rate-limiter
// admission before each attempt, limiter/rotator bookkeeping after
// success, proxy rotation plus Retry-After wait on throttling, and
// exponential backoff on transient failures.
type Caller struct {
	limiter           ratelimit.Limiter
	rotator           *proxy.Rotator
	backoff           retry.BackoffStrategy
	maxAttempts       int
	defaultRetryAfter time.Duration
	log               logger.Logger

	// onThrottleWait runs after a rate-limit wait, before the next
	// attempt. The session hooks its Refresh here.
	onThrottleWait func()

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a Caller from retry configuration.
func NewCaller(limiter ratelimit.Limiter, rotator *proxy.Rotator, cfg *config.RetryConfig, log logger.Logger) *Caller {
	if log == nil {
		log = logger.GetLogger()
	}
	if rotator == nil {
		rotator = proxy.Direct()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	cap := cfg.BackoffCap
	if cap < base {
		cap = 60 * time.Second
	}
	defaultRetryAfter := cfg.DefaultRetryAfter
	if defaultRetryAfter <= 0 {
		defaultRetryAfter = 300 * time.Second
	}

	return &Caller{
		limiter: limiter,
		rotator: rotator,
		backoff: &retry.ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     cap,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		maxAttempts:       maxAttempts,
		defaultRetryAfter: defaultRetryAfter,
		log:               log,
		sleep:             retry.Wait,
	}
}

// OnThrottleWait registers a hook invoked after every rate-limit wait.
func (c *Caller) OnThrottleWait(fn func()) {
	c.onThrottleWait = fn
}

// Call executes fn under the retry protocol. endpoint names the call in
// logs and in the terminal exhausted-retries error.
func (c *Caller) Call(ctx context.Context, endpoint string, fn AttemptFunc) error {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Admit(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			c.limiter.Record()
			c.rotator.RequestIssued()
			if attempt > 0 {
				c.log.DebugWithFields("call succeeded after retry", map[string]interface{}{
					"endpoint": endpoint,
					"attempt":  attempt + 1,
				})
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		var apiErr *apierrors.Error
		if errors.As(err, &apiErr) {
			switch apiErr.Type {
			case apierrors.ErrorTypeRateLimited:
				if attempt == c.maxAttempts-1 {
					continue // budget spent, fall out to Exhausted
				}
				if err := c.waitThrottled(ctx, endpoint, attempt, apiErr.RetryAfter); err != nil {
					return err
				}
				continue

			case apierrors.ErrorTypeAuth, apierrors.ErrorTypeNotFound, apierrors.ErrorTypePrivate:
				// Retrying cannot change these outcomes.
				return err
			}
		}

		// Transient or unclassified: exponential backoff.
		if attempt == c.maxAttempts-1 {
			continue
		}
		delay := c.backoff.NextDelay(attempt + 1)
		c.log.WarnWithFields("transient failure, backing off", map[string]interface{}{
			"endpoint": endpoint,
			"attempt":  attempt + 1,
			"delay":    delay.String(),
			"error":    err.Error(),
		})
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return apierrors.Exhausted(endpoint, c.maxAttempts, lastErr)
}

// waitThrottled handles a rate-limit signal: rotate away from the burned
// egress identity, honor the server's suggested wait, then let the session
// reset itself.
func (c *Caller) waitThrottled(ctx context.Context, endpoint string, attempt int, retryAfter time.Duration) error {
	c.rotator.Rotate(proxy.ReasonOnError)

	wait := retryAfter
	if wait <= 0 {
		wait = c.defaultRetryAfter
	}
	if c.rotator.HasMultiple() {
		wait = poolRetryAfter
	}

	c.log.WarnWithFields("rate limited, waiting", map[string]interface{}{
		"endpoint": endpoint,
		"attempt":  attempt + 1,
		"wait":     wait.String(),
	})

	if err := c.sleep(ctx, wait); err != nil {
		return err
	}
	if c.onThrottleWait != nil {
		c.onThrottleWait()
	}
	return nil
}
