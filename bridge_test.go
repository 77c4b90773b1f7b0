package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/register-bridge/registers"
	"github.com/st-keller/register-bridge/standard"
)

var fixedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)

// mockRemote answers like the remote service; per-route replies can be overridden.
type mockRemote struct {
	mu     sync.Mutex
	health int
	store  int
	crypto map[string]string // operation -> JSON body
	stored []string
	hashed []string
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		health: http.StatusOK,
		store:  http.StatusOK,
		crypto: map[string]string{
			"random_hex": `{"success":true,"data":{"result":"ab12"}}`,
			"sha256":     `{"success":true,"data":{"result":"deadbeefdeadbeefcafebabe"}}`,
		},
	}
}

func (m *mockRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		w.WriteHeader(m.health)
	case r.Method == http.MethodPost && r.URL.Path == "/data/c_message":
		body, _ := io.ReadAll(r.Body)
		m.stored = append(m.stored, string(body))
		w.WriteHeader(m.store)
	case r.Method == http.MethodPost && r.URL.Path == "/crypto":
		var req struct {
			Operation string `json:"operation"`
			Data      string `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Operation == "sha256" {
			m.hashed = append(m.hashed, req.Data)
		}
		body, ok := m.crypto[req.Operation]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *mockRemote) storedValues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stored...)
}

func (m *mockRemote) hashedValues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.hashed...)
}

func testConfig(baseURL string) Config {
	config := DefaultConfig()
	config.BaseURL = baseURL
	config.PollInterval = 10 * time.Millisecond
	config.HTTPTimeout = time.Second
	return config
}

func newTestBridge(t *testing.T, config Config, doer http.RoundTripper) (*Bridge, *standard.RecentLogs) {
	t.Helper()
	logs := standard.NewRecentLogs(10000, io.Discard)
	opts := []Option{
		WithLogs(logs),
		WithRand(rand.New(rand.NewPCG(7, 11))),
		WithClock(func() time.Time { return fixedTime }),
	}
	if doer != nil {
		opts = append(opts, WithHTTPClient(&http.Client{Transport: doer}))
	}
	b, err := New(config, opts...)
	require.NoError(t, err)
	return b, logs
}

// runUntil runs the bridge until cond holds, then cancels it and returns Run's error.
func runUntil(t *testing.T, b *Bridge, cond func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop after cancellation")
		return nil
	}
}

func contextValue(t *testing.T, logs *standard.RecentLogs, message, key string) interface{} {
	t.Helper()
	found := logs.Find(message)
	require.NotEmpty(t, found, "expected log entry %q", message)
	return found[0].Context[key]
}

// ============================================================================
// CONFIG
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, "http://localhost:5000", config.BaseURL)
	assert.Equal(t, 10, config.RegisterCount)
	assert.Equal(t, 2*time.Second, config.PollInterval)
	assert.Equal(t, 5*time.Second, config.HTTPTimeout)
	assert.Equal(t, "c_message", config.StoreKey)
	assert.False(t, config.ConcurrentCrypto)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no service name", func(c *Config) { c.ServiceName = "" }},
		{"no base url", func(c *Config) { c.BaseURL = "" }},
		{"bad scheme", func(c *Config) { c.BaseURL = "localhost:5000" }},
		{"one register", func(c *Config) { c.RegisterCount = 1 }},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = 0 }},
		{"no store key", func(c *Config) { c.StoreKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			assert.Error(t, config.Validate())

			_, err := New(config)
			assert.Error(t, err)
		})
	}
}

func TestConfigApplyEnv(t *testing.T) {
	config := DefaultConfig()
	config.ApplyEnv(func(key string) (string, bool) {
		if key == EnvBaseURL {
			return " http://remote:8080 ", true
		}
		return "", false
	})
	assert.Equal(t, "http://remote:8080", config.BaseURL)

	config = DefaultConfig()
	config.ApplyEnv(func(string) (string, bool) { return "", true })
	assert.Equal(t, DefaultBaseURL, config.BaseURL)
}

func TestChangeEventMessage(t *testing.T) {
	event := ChangeEvent{
		Snapshot:  registers.Snapshot{4, 99, 0, 16256},
		Timestamp: fixedTime.Format(TimestampLayout),
	}
	assert.Equal(t, "[4, 99, 0, 16256]_2024-01-01 00:00:00", event.Message())
}

// ============================================================================
// LOOP
// ============================================================================

func TestRunEndToEnd(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		name := "sequential"
		if concurrent {
			name = "concurrent"
		}
		t.Run(name, func(t *testing.T) {
			remote := newMockRemote()
			srv := httptest.NewServer(remote)
			defer srv.Close()

			config := testConfig(srv.URL)
			config.ConcurrentCrypto = concurrent
			b, logs := newTestBridge(t, config, nil)

			err := runUntil(t, b, func() bool { return b.Reports() >= 1 })
			require.NoError(t, err)

			pattern := regexp.MustCompile(`^\[(\d{1,3}, ){8}0, 16256\]_2024-01-01 00:00:00$`)
			message, _ := contextValue(t, logs, "Stored message", "message").(string)
			assert.Regexp(t, pattern, message)
			require.NotEmpty(t, remote.storedValues())
			assert.Equal(t, message, remote.storedValues()[0])

			assert.Equal(t, "ab12", contextValue(t, logs, "Generated hex", "hex"))
			assert.Equal(t, "deadbeefdeadbeef", contextValue(t, logs, "SHA256 of timestamp", "preview"))
			assert.Equal(t, "2024-01-01 00:00:00", remote.hashedValues()[0])

			// results are logged hex first, then hash, in both modes
			var order []string
			for _, entry := range logs.Entries() {
				if entry.Message == "Generated hex" || entry.Message == "SHA256 of timestamp" {
					order = append(order, entry.Message)
				}
			}
			require.GreaterOrEqual(t, len(order), 2)
			assert.Equal(t, []string{"Generated hex", "SHA256 of timestamp"}, order[:2])

			assert.Len(t, logs.Find("Register bridge stopped"), 1)
		})
	}
}

func TestRunHealthCheckFails(t *testing.T) {
	remote := newMockRemote()
	remote.health = http.StatusServiceUnavailable
	srv := httptest.NewServer(remote)
	defer srv.Close()

	b, logs := newTestBridge(t, testConfig(srv.URL), nil)

	err := b.Run(context.Background())
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Zero(t, b.Iterations(), "no polling before a healthy remote")
	assert.Empty(t, remote.storedValues())
	assert.Len(t, logs.Find("Remote service is not running"), 1)
}

func TestRunCancelledDuringHealthCheck(t *testing.T) {
	arrived := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(arrived) })
		<-r.Context().Done()
	}))
	defer srv.Close()

	b, logs := newTestBridge(t, testConfig(srv.URL), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("health check never reached the remote")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "shutdown during startup is not an unavailable remote")
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop after cancellation")
	}
	assert.Zero(t, b.Iterations())
	assert.Empty(t, logs.Find("Remote service is not running"))
	assert.Len(t, logs.Find("Register bridge stopped before polling"), 1)
}

// failingTransport fails every request except, optionally, the health check.
type failingTransport struct {
	allowHealth bool
}

func (f failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.allowHealth && r.URL.Path == "/health" {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(http.NoBody),
			Request:    r,
		}, nil
	}
	return nil, errors.New("connection refused")
}

func TestRunSurvivesFailingTransport(t *testing.T) {
	b, logs := newTestBridge(t, testConfig("http://remote.invalid"), failingTransport{allowHealth: true})

	err := runUntil(t, b, func() bool { return b.Iterations() >= 3 })
	require.NoError(t, err)

	assert.GreaterOrEqual(t, b.Iterations(), int64(3))
	assert.NotEmpty(t, logs.Find("Failed to store message"))
	assert.NotEmpty(t, logs.Find("No crypto response"))

	total, success := b.Connectivity().Counts("crypto")
	assert.Positive(t, total)
	assert.Zero(t, success)
}

func TestTickWithDeadTransport(t *testing.T) {
	b, logs := newTestBridge(t, testConfig("http://remote.invalid"), failingTransport{})

	for i := 0; i < 3; i++ {
		assert.NotPanics(t, func() { b.Tick(context.Background()) })
	}
	assert.Equal(t, int64(3), b.Iterations())
	assert.Len(t, logs.Find("Failed to store message"), int(b.Reports()))
}

func TestTickUnchangedRegisters(t *testing.T) {
	remote := newMockRemote()
	srv := httptest.NewServer(remote)
	defer srv.Close()

	// Two registers hold only the sentinels, so every sample is identical.
	config := testConfig(srv.URL)
	config.RegisterCount = 2
	b, logs := newTestBridge(t, config, nil)

	assert.True(t, b.Tick(context.Background()))
	assert.False(t, b.Tick(context.Background()))
	assert.False(t, b.Tick(context.Background()))

	assert.Equal(t, int64(3), b.Iterations())
	assert.Equal(t, int64(1), b.Reports())
	assert.Equal(t, []string{"[0, 16256]_2024-01-01 00:00:00"}, remote.storedValues())
	assert.Len(t, logs.Find("Registers unchanged"), 2)
}

func TestTickSemanticFailures(t *testing.T) {
	tests := []struct {
		name    string
		hex     string
		hash    string
		hexLog  string
		hashLog string
	}{
		{
			name:    "operation failed",
			hex:     `{"success":false,"error":"Random generation failed"}`,
			hash:    `{"success":false}`,
			hexLog:  "Crypto operation failed",
			hashLog: "Crypto operation failed",
		},
		{
			name:    "no data",
			hex:     `{"success":true}`,
			hash:    `{"success":true,"data":null}`,
			hexLog:  "No data in crypto response",
			hashLog: "No data in crypto response",
		},
		{
			name:    "invalid result",
			hex:     `{"success":true,"data":{"result":42}}`,
			hash:    `{"success":true,"data":{"result":["x"]}}`,
			hexLog:  "Invalid crypto result format",
			hashLog: "Invalid crypto result format",
		},
		{
			name:    "unparsable",
			hex:     `not json`,
			hash:    `{"success":true,"data":{"result":"abc"}}`,
			hexLog:  "No crypto response",
			hashLog: "Hash too short",
		},
		{
			name:    "unexpected shape",
			hex:     `{"success":true,"data":"oops"}`,
			hash:    `["a"]`,
			hexLog:  "Invalid crypto result format",
			hashLog: "Crypto operation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newMockRemote()
			remote.crypto["random_hex"] = tt.hex
			remote.crypto["sha256"] = tt.hash
			srv := httptest.NewServer(remote)
			defer srv.Close()

			b, logs := newTestBridge(t, testConfig(srv.URL), nil)
			require.True(t, b.Tick(context.Background()))

			assert.Empty(t, logs.Find("Generated hex"))
			assert.Empty(t, logs.Find("SHA256 of timestamp"))

			hexLogs := logs.Find(tt.hexLog)
			require.NotEmpty(t, hexLogs)
			hashLogs := logs.Find(tt.hashLog)
			require.NotEmpty(t, hashLogs)
			assert.Len(t, logs.Find("Stored message"), 1, "store succeeds independently")
		})
	}
}

func TestTickConcurrentCryptoFailureSparesSibling(t *testing.T) {
	tests := []struct {
		name     string
		drop     string
		failLog  string
		survivor string
	}{
		{"hex fails", "random_hex", "No crypto response", "SHA256 of timestamp"},
		{"hash fails", "sha256", "No crypto response", "Generated hex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newMockRemote()
			delete(remote.crypto, tt.drop)
			srv := httptest.NewServer(remote)
			defer srv.Close()

			config := testConfig(srv.URL)
			config.ConcurrentCrypto = true
			b, logs := newTestBridge(t, config, nil)
			require.True(t, b.Tick(context.Background()))

			failed := logs.Find(tt.failLog)
			require.Len(t, failed, 1)
			assert.Equal(t, tt.drop, failed[0].Context["operation"])
			assert.Len(t, logs.Find(tt.survivor), 1)
		})
	}
}

func TestTickStoreFailureStillRunsCrypto(t *testing.T) {
	remote := newMockRemote()
	remote.store = http.StatusInternalServerError
	srv := httptest.NewServer(remote)
	defer srv.Close()

	b, logs := newTestBridge(t, testConfig(srv.URL), nil)
	require.True(t, b.Tick(context.Background()))

	assert.Len(t, logs.Find("Failed to store message"), 1)
	assert.Equal(t, "ab12", contextValue(t, logs, "Generated hex", "hex"))
	assert.Equal(t, "deadbeefdeadbeef", contextValue(t, logs, "SHA256 of timestamp", "preview"))
}
