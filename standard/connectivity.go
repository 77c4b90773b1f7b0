package standard

import (
	"sort"
	"sync"
	"time"
)

// Call represents a single request to a remote endpoint.
type Call struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

// endpointCalls tracks calls to a single remote endpoint.
type endpointCalls struct {
	endpoint string
	url      string
	calls    []Call
}

// ConnectivityTracker tracks outbound calls per remote endpoint over a sliding window.
type ConnectivityTracker struct {
	mu        sync.Mutex
	window    time.Duration
	endpoints map[string]*endpointCalls
}

// NewConnectivityTracker creates a tracker keeping calls for the last hour.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		window:    time.Hour,
		endpoints: make(map[string]*endpointCalls),
	}
}

// TrackSuccess records a successful call.
func (t *ConnectivityTracker) TrackSuccess(endpoint, url string, latency time.Duration) {
	t.track(endpoint, url, Call{Success: true, Latency: latency})
}

// TrackFailure records a failed call.
func (t *ConnectivityTracker) TrackFailure(endpoint, url string, latency time.Duration, errorMsg string) {
	t.track(endpoint, url, Call{Success: false, Latency: latency, Error: errorMsg})
}

func (t *ConnectivityTracker) track(endpoint, url string, call Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep, exists := t.endpoints[endpoint]
	if !exists {
		ep = &endpointCalls{endpoint: endpoint, url: url}
		t.endpoints[endpoint] = ep
	}

	call.Timestamp = time.Now().UTC()
	ep.calls = append(ep.calls, call)
	t.prune(ep)
}

// prune drops calls older than the window. Calls are appended in time order.
func (t *ConnectivityTracker) prune(ep *endpointCalls) {
	cutoff := time.Now().Add(-t.window)
	for i, call := range ep.calls {
		if call.Timestamp.After(cutoff) {
			ep.calls = ep.calls[i:]
			return
		}
	}
	ep.calls = ep.calls[:0]
}

// Counts returns total and successful calls recorded for an endpoint.
func (t *ConnectivityTracker) Counts(endpoint string) (total, success int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep, ok := t.endpoints[endpoint]
	if !ok {
		return 0, 0
	}
	for _, call := range ep.calls {
		total++
		if call.Success {
			success++
		}
	}
	return total, success
}

// GetData summarizes every endpoint: status, success rate, latency percentiles, recent errors.
func (t *ConnectivityTracker) GetData() interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.endpoints))
	for name := range t.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	endpoints := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		ep := t.endpoints[name]
		if len(ep.calls) == 0 {
			continue
		}

		var successCount int
		var lastCall time.Time
		latencies := make([]float64, 0, len(ep.calls))
		recentErrors := make([]string, 0)

		for _, call := range ep.calls {
			if call.Success {
				successCount++
			} else if len(recentErrors) < 5 {
				recentErrors = append(recentErrors, call.Error)
			}
			latencies = append(latencies, float64(call.Latency.Milliseconds()))
			if call.Timestamp.After(lastCall) {
				lastCall = call.Timestamp
			}
		}

		totalCount := len(ep.calls)
		successRate := float64(successCount) / float64(totalCount)

		sort.Float64s(latencies)

		endpoints = append(endpoints, map[string]interface{}{
			"endpoint":     ep.endpoint,
			"url":          ep.url,
			"status":       connectionStatus(successRate),
			"last_call":    lastCall.Format(time.RFC3339),
			"total_calls":  totalCount,
			"success_rate": successRate,
			"latency_ms": map[string]interface{}{
				"p50": int(percentile(latencies, 0.50)),
				"p95": int(percentile(latencies, 0.95)),
				"p99": int(percentile(latencies, 0.99)),
			},
			"recent_errors": recentErrors,
		})
	}

	return map[string]interface{}{
		"outbound_endpoints": endpoints,
	}
}

func connectionStatus(successRate float64) string {
	switch {
	case successRate < 0.9:
		return "unhealthy"
	case successRate < 0.95:
		return "degraded"
	default:
		return "healthy"
	}
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
