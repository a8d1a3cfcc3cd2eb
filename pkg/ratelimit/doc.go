// Package ratelimit bounds outbound API request rate within a rolling
// time window.
//
// The limiter keeps an ordered sequence of request timestamps. Before each
// admission the sequence is pruned to the window, and when the budget is
// spent the caller is suspended until the oldest timestamp exits the
// window. Every admission is followed by a small uniform random delay so
// requests never leave at a perfectly regular cadence.
//
// Admit and Record share one mutex, and Admit holds it across the
// admission wait, so concurrent admits queue instead of re-checking a
// stale window. Record is a separate critical section: exactness of the
// count relies on the caller recording each request before admitting the
// next, which is the sequence the retrying caller follows.
//
// Usage:
//
//	limiter := ratelimit.NewSlidingWindow(75, 660*time.Second)
//
//	if err := limiter.Admit(ctx); err != nil {
//	    return err // context cancelled
//	}
//	// ... issue the request ...
//	limiter.Record()
package ratelimit
