// Package gateway implements the typed operations of the remote storage/crypto service.
//
// Every operation collapses transport failures, non-200 statuses and unparsable bodies
// into a boolean or nil result. Nothing here ever returns a fatal error to the caller.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/register-bridge/standard"
)

// DefaultTimeout bounds every outbound request.
const DefaultTimeout = 5 * time.Second

// maxResponseBytes limits how much of a response body is read.
const maxResponseBytes = 1 << 20

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a response whose status was not 200.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d, body %q", e.Endpoint, e.StatusCode, e.Body)
}

// Gateway talks to the remote service at a base URL.
type Gateway struct {
	baseURL      string
	http         Doer
	timeout      time.Duration
	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogs sets where request progress is logged.
func WithLogs(logs *standard.RecentLogs) Option {
	return func(g *Gateway) { g.logs = logs }
}

// WithConnectivity sets the tracker that records every call.
func WithConnectivity(tracker *standard.ConnectivityTracker) Option {
	return func(g *Gateway) { g.connectivity = tracker }
}

// New creates a gateway for baseURL. A timeout <= 0 uses DefaultTimeout.
func New(baseURL string, doer Doer, timeout time.Duration, opts ...Option) (*Gateway, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	if doer == nil {
		return nil, fmt.Errorf("http client required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logs == nil {
		g.logs = standard.NewRecentLogs(0, io.Discard)
	}
	if g.connectivity == nil {
		g.connectivity = standard.NewConnectivityTracker()
	}

	return g, nil
}

// BaseURL returns the normalized base URL.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// HealthCheck reports whether GET /health answers 200 within the timeout.
func (g *Gateway) HealthCheck(ctx context.Context) bool {
	_, err := g.send(ctx, "health", http.MethodGet, "/health", "", nil)
	return err == nil
}

// send performs one request and returns the body of a 200 response.
// Transport failures and non-200 statuses are logged, tracked and returned as errors.
func (g *Gateway) send(ctx context.Context, endpoint, method, path, contentType string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url := g.baseURL + path
	requestID := uuid.NewString()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		g.logs.Error("Failed to build remote request", map[string]interface{}{
			"endpoint": endpoint,
			"url":      url,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("failed request creation: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Request-ID", requestID)

	g.logs.Debug("Remote request", map[string]interface{}{
		"endpoint":   endpoint,
		"method":     method,
		"url":        url,
		"request_id": requestID,
	})

	startTime := time.Now()
	resp, err := g.http.Do(req)
	latency := time.Since(startTime)

	if err != nil {
		g.connectivity.TrackFailure(endpoint, url, latency, err.Error())
		g.logs.Warn("Remote request failed", map[string]interface{}{
			"endpoint":   endpoint,
			"request_id": requestID,
			"error":      err.Error(),
			"latency_ms": latency.Milliseconds(),
		})
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		g.connectivity.TrackFailure(endpoint, url, latency, err.Error())
		g.logs.Warn("Failed to read remote response", map[string]interface{}{
			"endpoint":   endpoint,
			"request_id": requestID,
			"status":     resp.StatusCode,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(respBody)}
		g.connectivity.TrackFailure(endpoint, url, latency, fmt.Sprintf("HTTP %d", resp.StatusCode))
		g.logs.Warn("Remote returned non-200 status", map[string]interface{}{
			"endpoint":   endpoint,
			"request_id": requestID,
			"status":     resp.StatusCode,
			"latency_ms": latency.Milliseconds(),
		})
		return nil, statusErr
	}

	g.connectivity.TrackSuccess(endpoint, url, latency)
	g.logs.Debug("Remote response", map[string]interface{}{
		"endpoint":   endpoint,
		"request_id": requestID,
		"status":     resp.StatusCode,
		"bytes":      len(respBody),
		"latency_ms": latency.Milliseconds(),
	})

	return respBody, nil
}
