package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	bridge "github.com/st-keller/register-bridge"
	"github.com/st-keller/register-bridge/standard"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	logs := standard.NewRecentLogs(100, os.Stdout)

	config := bridge.DefaultConfig()
	config.Version = version
	config.ApplyEnv(os.LookupEnv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logs.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	os.Exit(run(ctx, config, bridge.WithLogs(logs)))
}

// run starts the bridge and maps its outcome to a process exit code.
func run(ctx context.Context, config bridge.Config, opts ...bridge.Option) int {
	b, err := bridge.New(config, opts...)
	if err != nil {
		standard.NewRecentLogs(1, os.Stderr).Error("Failed to create bridge", map[string]interface{}{
			"error": err.Error(),
		})
		return 1
	}

	err = b.Run(ctx)
	if errors.Is(err, bridge.ErrRemoteUnavailable) {
		standard.NewRecentLogs(1, os.Stderr).Error("Please start the remote service first", map[string]interface{}{
			"error": err.Error(),
		})
		return 1
	}
	if err != nil {
		return 1
	}
	return 0
}
