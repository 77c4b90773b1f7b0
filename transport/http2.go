// Package transport builds the HTTP client used to reach the remote service.
// Plain http:// URLs use HTTP/1.1; https:// URLs negotiate HTTP/2 via ALPN.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// Options configures BuildHTTPClient.
type Options struct {
	Timeout time.Duration // whole-request timeout, required
	CAPath  string        // optional PEM bundle for https remotes; empty = system roots
}

// BuildHTTPClient creates an HTTP client with a bounded request timeout and HTTP/2 enabled.
func BuildHTTPClient(opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("timeout required (must be > 0)")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if opts.CAPath != "" {
		caCert, err := os.ReadFile(opts.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}

	t1 := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   2,
	}

	t2, err := http2.ConfigureTransports(t1)
	if err != nil {
		return nil, fmt.Errorf("failed to enable HTTP/2: %w", err)
	}
	// Detect dead HTTP/2 connections between polls
	t2.ReadIdleTimeout = 30 * time.Second
	t2.PingTimeout = opts.Timeout

	return &http.Client{
		Transport: t1,
		Timeout:   opts.Timeout,
	}, nil
}
