// Command tomatod is the topology control plane's process entrypoint: it
// loads configuration, wires the signal-driven shutdown context, and hands
// off to internal/app.Run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opentomato/tomato/internal/app"
	"github.com/opentomato/tomato/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: api or worker (overrides MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
