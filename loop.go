package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/st-keller/register-bridge/gateway"
	"github.com/st-keller/register-bridge/registers"
	"github.com/st-keller/register-bridge/standard"
	"github.com/st-keller/register-bridge/transport"
)

// ErrRemoteUnavailable is returned by Run when the startup health check fails.
var ErrRemoteUnavailable = errors.New("remote service is not available")

const (
	randomHexLength   = 16
	hashPreviewLength = 16
)

// Bridge runs the sample -> detect -> forward loop.
type Bridge struct {
	config       Config
	bank         *registers.Bank
	gateway      *gateway.Gateway
	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker
	info         *standard.ServiceInfo
	now          func() time.Time

	iterations atomic.Int64
	reports    atomic.Int64
}

type options struct {
	doer  gateway.Doer
	logs  *standard.RecentLogs
	rng   *rand.Rand
	clock func() time.Time
}

// Option customizes a Bridge.
type Option func(*options)

// WithHTTPClient replaces the HTTP client built from the config.
func WithHTTPClient(doer gateway.Doer) Option {
	return func(o *options) { o.doer = doer }
}

// WithLogs sets the log sink shared by the bridge and its gateway.
func WithLogs(logs *standard.RecentLogs) Option {
	return func(o *options) { o.logs = logs }
}

// WithRand sets the random source used to sample registers.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithClock sets the time source used for change timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// New creates a bridge. The register bank starts in its zero state.
func New(config Config, opts ...Option) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logs == nil {
		o.logs = standard.NewRecentLogs(100, nil)
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.doer == nil {
		httpClient, err := transport.BuildHTTPClient(transport.Options{
			Timeout: config.HTTPTimeout,
			CAPath:  config.CAPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP client: %w", err)
		}
		o.doer = httpClient
	}

	connectivity := standard.NewConnectivityTracker()

	gw, err := gateway.New(config.BaseURL, o.doer, config.HTTPTimeout,
		gateway.WithLogs(o.logs),
		gateway.WithConnectivity(connectivity),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &Bridge{
		config:       config,
		bank:         registers.NewBank(config.RegisterCount, o.rng),
		gateway:      gw,
		logs:         o.logs,
		connectivity: connectivity,
		info:         standard.AutoDetect(config.ServiceName, config.Version, gw.BaseURL()),
		now:          o.clock,
	}, nil
}

// Iterations returns how many poll iterations have run.
func (b *Bridge) Iterations() int64 {
	return b.iterations.Load()
}

// Reports returns how many iterations detected and forwarded a change.
func (b *Bridge) Reports() int64 {
	return b.reports.Load()
}

// Connectivity returns the per-endpoint call tracker.
func (b *Bridge) Connectivity() *standard.ConnectivityTracker {
	return b.connectivity
}

// ============================================================================
// INIT + POLLING
// ============================================================================

// Run checks remote health, then polls until ctx is cancelled.
// It returns ErrRemoteUnavailable if the health check fails and nil on cancellation,
// including cancellation while the health check is in flight.
func (b *Bridge) Run(ctx context.Context) error {
	b.logs.Info("Register bridge starting", b.info.GetData())

	if !b.gateway.HealthCheck(ctx) {
		if ctx.Err() != nil {
			b.logs.Info("Register bridge stopped before polling", map[string]interface{}{
				"url": b.gateway.BaseURL(),
			})
			return nil
		}
		b.logs.Error("Remote service is not running", map[string]interface{}{
			"url": b.gateway.BaseURL(),
		})
		return fmt.Errorf("%w at %s", ErrRemoteUnavailable, b.gateway.BaseURL())
	}

	b.logs.Info("Remote service is available, polling started", map[string]interface{}{
		"url":           b.gateway.BaseURL(),
		"registers":     b.config.RegisterCount,
		"poll_interval": b.config.PollInterval.String(),
	})

	timer := time.NewTimer(b.config.PollInterval)
	defer timer.Stop()

	for {
		b.Tick(ctx)

		timer.Reset(b.config.PollInterval)
		select {
		case <-ctx.Done():
			b.logs.Info("Register bridge stopped", map[string]interface{}{
				"iterations":   b.Iterations(),
				"reports":      b.Reports(),
				"connectivity": b.connectivity.GetData(),
			})
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one poll iteration and reports whether a change was forwarded.
func (b *Bridge) Tick(ctx context.Context) bool {
	iteration := b.iterations.Add(1)

	snapshot := b.bank.Sample()
	timestamp := b.now().Format(TimestampLayout)

	if !b.bank.HasChanged(snapshot) {
		b.logs.Debug("Registers unchanged", map[string]interface{}{
			"iteration": iteration,
		})
		return false
	}

	b.forward(ctx, ChangeEvent{Snapshot: snapshot, Timestamp: timestamp})
	b.reports.Add(1)
	return true
}

// ============================================================================
// FORWARDING
// ============================================================================

// forward stores the change message and requests the two crypto artifacts.
// Every failure is logged and absorbed.
func (b *Bridge) forward(ctx context.Context, event ChangeEvent) {
	message := event.Message()

	if b.gateway.StoreValue(ctx, b.config.StoreKey, message) {
		b.logs.Info("Stored message", map[string]interface{}{
			"key":     b.config.StoreKey,
			"message": message,
		})
	} else {
		b.logs.Warn("Failed to store message", map[string]interface{}{
			"key": b.config.StoreKey,
		})
	}

	var hexResp, hashResp *gateway.CryptoResponse

	if b.config.ConcurrentCrypto {
		// The group only joins the two calls. A failed call yields a nil
		// response and must not cancel its sibling.
		var g errgroup.Group
		g.Go(func() error {
			hexResp = b.gateway.CryptoOperation(ctx, gateway.OpRandomHex, "", randomHexLength)
			return nil
		})
		g.Go(func() error {
			hashResp = b.gateway.CryptoOperation(ctx, gateway.OpSHA256, event.Timestamp, 0)
			return nil
		})
		g.Wait()
	} else {
		hexResp = b.gateway.CryptoOperation(ctx, gateway.OpRandomHex, "", randomHexLength)
		hashResp = b.gateway.CryptoOperation(ctx, gateway.OpSHA256, event.Timestamp, 0)
	}

	b.reportHex(hexResp)
	b.reportHash(hashResp, event.Timestamp)
}

func (b *Bridge) reportHex(resp *gateway.CryptoResponse) {
	hex, ok := b.cryptoResult(gateway.OpRandomHex, resp)
	if !ok {
		return
	}
	b.logs.Info("Generated hex", map[string]interface{}{
		"hex": hex,
	})
}

func (b *Bridge) reportHash(resp *gateway.CryptoResponse, timestamp string) {
	hash, ok := b.cryptoResult(gateway.OpSHA256, resp)
	if !ok {
		return
	}
	if len(hash) < hashPreviewLength {
		b.logs.Warn("Hash too short", map[string]interface{}{
			"length": len(hash),
		})
		return
	}
	b.logs.Info("SHA256 of timestamp", map[string]interface{}{
		"timestamp": timestamp,
		"preview":   hash[:hashPreviewLength],
	})
}

// cryptoResult extracts the result string, logging a distinct message per failure kind.
func (b *Bridge) cryptoResult(op gateway.Operation, resp *gateway.CryptoResponse) (string, bool) {
	if resp == nil {
		b.logs.Warn("No crypto response", map[string]interface{}{
			"operation": string(op),
		})
		return "", false
	}

	result, err := resp.Result()
	if err == nil {
		return result, true
	}

	message := "Crypto operation failed"
	switch {
	case errors.Is(err, gateway.ErrMissingData):
		message = "No data in crypto response"
	case errors.Is(err, gateway.ErrInvalidResult):
		message = "Invalid crypto result format"
	}
	b.logs.Warn(message, map[string]interface{}{
		"operation": string(op),
		"error":     err.Error(),
	})
	return "", false
}
