// connectd bridges UniFi Connect displays to MQTT and a local REST API.
//
// It keeps a live view of every display adopted by a UniFi controller,
// translates logical commands (power, brightness, volume, playback) into
// the controller's model-specific actions, and publishes state changes.
//
// Usage:
//
//	connectd [serve] --config configs/config.yaml
//	connectd models [--file models.yaml] [--json]
//	connectd token --subject dashboard --role viewer
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
