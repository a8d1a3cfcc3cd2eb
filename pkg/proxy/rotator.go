package proxy

import (
	"bufio"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"mediafetch/pkg/logger"
)

// Reason says why a rotation happens. Preventive rotation fires on the
// request-count threshold; on-error rotation reacts to throttling.
type Reason string

const (
	ReasonPreventive Reason = "preventive"
	ReasonOnError    Reason = "on_error"
)

// DefaultRotateEvery is the preventive rotation threshold.
const DefaultRotateEvery = 20

// Rotator selects the egress identity for outbound requests. Three modes:
// direct (empty pool), single fixed endpoint (pool of one, never rotates),
// and pool (rotates circularly).
type Rotator struct {
	mu          sync.Mutex
	endpoints   []*url.URL
	current     int
	requests    int
	rotateEvery int
	log         logger.Logger
}

// Direct returns a rotator for direct egress (no proxy).
func Direct() *Rotator {
	return &Rotator{rotateEvery: DefaultRotateEvery, log: logger.GetLogger()}
}

// Single returns a rotator pinned to one endpoint. It never rotates.
func Single(raw string) (*Rotator, error) {
	u, err := parseEndpoint(raw)
	if err != nil {
		return nil, err
	}
	return &Rotator{
		endpoints:   []*url.URL{u},
		rotateEvery: DefaultRotateEvery,
		log:         logger.GetLogger(),
	}, nil
}

// NewPool returns a rotator over the given endpoint URLs in order.
func NewPool(raws []string, rotateEvery int, log logger.Logger) (*Rotator, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if rotateEvery <= 0 {
		rotateEvery = DefaultRotateEvery
	}

	endpoints := make([]*url.URL, 0, len(raws))
	for _, raw := range raws {
		u, err := parseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, u)
	}

	return &Rotator{
		endpoints:   endpoints,
		rotateEvery: rotateEvery,
		log:         log,
	}, nil
}

// FromFile loads a proxy pool from a file with one endpoint URL per line.
// Lines starting with '#' and blank lines are ignored; malformed lines are
// skipped with a warning. An empty resulting pool degrades to direct
// egress. The pool order is shuffled on load.
func FromFile(path string, rotateEvery int, log logger.Logger) (*Rotator, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer file.Close()

	var raws []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := parseEndpoint(line); err != nil {
			log.WarnWithFields("skipping malformed proxy entry", map[string]interface{}{
				"file": path,
				"line": lineNum,
				"err":  err.Error(),
			})
			continue
		}
		raws = append(raws, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}

	if len(raws) == 0 {
		log.WarnWithFields("proxy file yielded no usable endpoints, using direct egress", map[string]interface{}{
			"file": path,
		})
		return Direct(), nil
	}

	rand.Shuffle(len(raws), func(i, j int) { raws[i], raws[j] = raws[j], raws[i] })

	rot, err := NewPool(raws, rotateEvery, log)
	if err != nil {
		return nil, err
	}
	log.InfoWithFields("loaded proxy pool", map[string]interface{}{
		"file":  path,
		"count": len(raws),
	})
	return rot, nil
}

// parseEndpoint validates a proxy URL. Plain HTTP/HTTPS forward proxies and
// SOCKS5 are supported. socks5h is rejected: net/http's transport does not
// route that scheme, so such entries would validate and then fail every
// request.
func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", raw)
	}
	return u, nil
}

// Enabled reports whether any proxy is configured.
func (r *Rotator) Enabled() bool {
	return len(r.endpoints) > 0
}

// HasMultiple reports whether the pool can actually rotate.
func (r *Rotator) HasMultiple() bool {
	return len(r.endpoints) > 1
}

// Size returns the pool size.
func (r *Rotator) Size() int {
	return len(r.endpoints)
}

// Current returns the active endpoint, or nil for direct egress.
func (r *Rotator) Current() *url.URL {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.endpoints) == 0 {
		return nil
	}
	return r.endpoints[r.current]
}

// RequestIssued increments the request counter and rotates preventively
// once the threshold is reached.
func (r *Rotator) RequestIssued() {
	if !r.HasMultiple() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	if r.requests >= r.rotateEvery {
		r.advance(ReasonPreventive)
	}
}

// Rotate advances to the next endpoint. On-error rotation resets the
// request counter regardless of the threshold.
func (r *Rotator) Rotate(reason Reason) {
	if !r.HasMultiple() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(reason)
}

// advance moves to the next endpoint circularly and zeroes the counter.
// Callers hold the mutex.
func (r *Rotator) advance(reason Reason) {
	prev := r.current
	r.current = (r.current + 1) % len(r.endpoints)
	r.requests = 0

	r.log.DebugWithFields("rotating proxy", map[string]interface{}{
		"reason": string(reason),
		"from":   prev + 1,
		"to":     r.current + 1,
		"of":     len(r.endpoints),
	})
}

// ProxyFunc returns an http.Transport proxy function that resolves the
// active endpoint at request time, so rotations apply to all subsequent
// calls without rebuilding the transport. net/http handles the socks5
// scheme natively.
func (r *Rotator) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		return r.Current(), nil
	}
}

// requestCount returns the counter value. Test hook.
func (r *Rotator) requestCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}
