// Command taskguard runs the reference worker: the mail and domains queues
// with their handlers, the HTTP API, and optional Redis, Kafka and OTLP
// integrations, all driven by configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbukum/taskguard/bootstrap"
	"github.com/kbukum/taskguard/config"
)

const serviceName = "taskguard"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	opts := append([]config.Option{config.WithEnvPrefix("TASKGUARD")}, loadDefaults...)
	if path := os.Getenv("TASKGUARD_CONFIG_FILE"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = version
	}

	app, err := bootstrap.NewApp(&cfg, bootstrap.WithGracefulTimeout(cfg.ShutdownTimeout))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := wire(ctx, app); err != nil {
		return err
	}
	return app.Run(ctx)
}
