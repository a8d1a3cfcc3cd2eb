package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	apierrors "mediafetch/pkg/errors"
	"mediafetch/pkg/logger"
	"mediafetch/pkg/proxy"
)

// Session owns the HTTP clients used against the metadata API and the
// asset hosts. The API client carries session headers and routes through
// the proxy rotator; the asset client is deliberately bare so asset hosts
// never see credentials meant for the metadata API.
type Session struct {
	mu          sync.Mutex
	apiClient   *http.Client
	assetClient *http.Client
	headers     map[string]string
	rotator     *proxy.Rotator
	userAgent   string
	timeout     time.Duration
	log         logger.Logger
	closed      bool
}

// NewSession creates a session. The rotator decides egress for API calls;
// pass proxy.Direct() for none.
func NewSession(userAgent string, timeout time.Duration, rotator *proxy.Rotator, log logger.Logger) *Session {
	if log == nil {
		log = logger.GetLogger()
	}
	if rotator == nil {
		rotator = proxy.Direct()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Session{
		headers: map[string]string{
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
		},
		rotator:   rotator,
		userAgent: userAgent,
		timeout:   timeout,
		log:       log,
	}
	if userAgent != "" {
		s.headers["User-Agent"] = userAgent
	}

	s.apiClient = &http.Client{
		Timeout:   timeout,
		Transport: s.newTransport(),
	}
	s.assetClient = &http.Client{
		// Asset transfers move real bytes; give them more room.
		Timeout: 2 * timeout,
	}
	return s
}

// newTransport builds an API transport routed through the rotator. The
// proxy function resolves the active endpoint per request, so rotations
// take effect without a rebuild.
func (s *Session) newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               s.rotator.ProxyFunc(),
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// SetHeader sets a header sent with every metadata API request.
func (s *Session) SetHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[key] = value
}

// Refresh drops idle connections and installs a fresh transport. Called
// after rate-limit waits so the next attempt starts from a clean slate.
func (s *Session) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.apiClient.CloseIdleConnections()
	s.apiClient.Transport = s.newTransport()
	s.log.Debug("session refreshed")
}

// Close releases underlying connections. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.apiClient.CloseIdleConnections()
	s.assetClient.CloseIdleConnections()
}

// GetJSON performs one metadata API request and decodes the JSON body into
// target. Failures are classified into the error taxonomy so the retry
// loop can pattern-match.
func (s *Session) GetJSON(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	s.mu.Lock()
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	client := s.apiClient
	s.mu.Unlock()

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apierrors.Transient(err)
	}
	defer resp.Body.Close()

	s.log.DebugWithFields("api request completed", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})

	if apiErr := apierrors.FromResponse(resp); apiErr != nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		// Throttling pages sometimes arrive as HTML with a 200 status.
		return apierrors.Transient(fmt.Errorf("invalid JSON response: %w", err))
	}
	return nil
}

// DownloadAsset fetches one asset URL to dest with a plain GET. Only a
// User-Agent is sent: asset hosts are distinct from the metadata API and
// must not receive its headers or cookies. The file lands via a temp path
// and rename so a partial transfer never looks confirmed.
func (s *Session) DownloadAsset(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.assetClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apierrors.Transient(err)
	}
	defer resp.Body.Close()

	if apiErr := apierrors.FromResponse(resp); apiErr != nil {
		return apiErr
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr == nil {
			copyErr = closeErr
		}
		return apierrors.Transient(fmt.Errorf("failed to write %s: %w", dest, copyErr))
	}
	if written == 0 {
		os.Remove(tmp)
		return apierrors.Transient(fmt.Errorf("empty body for %s", url))
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", dest, err)
	}
	return nil
}
