// Package bridge polls a simulated register bank and forwards every detected change
// to a remote storage/crypto service over HTTP.
//
// Each iteration samples the registers, compares them against the last reported
// snapshot and, on a change, stores a message and requests two crypto artifacts
// (random hex, SHA-256 of the timestamp). Remote failures are logged and never stop
// the loop; only the startup health check can end the process.
package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/st-keller/register-bridge/gateway"
	"github.com/st-keller/register-bridge/registers"
)

// DefaultBaseURL is the remote service URL. Override at build time with
// -ldflags "-X github.com/st-keller/register-bridge.DefaultBaseURL=http://host:port".
var DefaultBaseURL = "http://localhost:5000"

// EnvBaseURL is the environment variable a service unit may set to override the base URL.
const EnvBaseURL = "REGISTER_BRIDGE_URL"

// Defaults applied by DefaultConfig.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultStoreKey     = "c_message"
	DefaultServiceName  = "register-bridge"
)

// Config holds bridge configuration.
type Config struct {
	ServiceName      string        // Name shown in the startup banner
	Version          string        // Version shown in the startup banner
	BaseURL          string        // Remote service URL (e.g., "http://localhost:5000")
	RegisterCount    int           // Number of simulated registers (>= 2)
	PollInterval     time.Duration // Sleep after each full iteration
	HTTPTimeout      time.Duration // Bound on every outbound request
	StoreKey         string        // Key under which change messages are stored
	CAPath           string        // Optional CA bundle for https remotes
	ConcurrentCrypto bool          // Run both crypto calls of a change in parallel
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:   DefaultServiceName,
		Version:       "dev",
		BaseURL:       DefaultBaseURL,
		RegisterCount: registers.DefaultCount,
		PollInterval:  DefaultPollInterval,
		HTTPTimeout:   gateway.DefaultTimeout,
		StoreKey:      DefaultStoreKey,
	}
}

// ApplyEnv overrides the base URL from EnvBaseURL when set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBaseURL); ok && strings.TrimSpace(v) != "" {
		c.BaseURL = strings.TrimSpace(v)
	}
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("ServiceName required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BaseURL must start with http:// or https:// (got %q)", c.BaseURL)
	}
	if c.RegisterCount < 2 {
		return fmt.Errorf("RegisterCount must be >= 2 (got %d)", c.RegisterCount)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval required (must be > 0)")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTPTimeout required (must be > 0)")
	}
	if c.StoreKey == "" {
		return fmt.Errorf("StoreKey required")
	}
	return nil
}
