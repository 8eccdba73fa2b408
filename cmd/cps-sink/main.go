package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/cps-sink-connector/internal/app"
	"github.com/samvad-hq/cps-sink-connector/internal/config"
	"github.com/samvad-hq/cps-sink-connector/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cps sink start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("cps sink starting", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := app.NewSink(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize cps sink", "error", err)
		return err
	}

	if err := sink.Run(ctx); err != nil {
		return fmt.Errorf("cps sink run: %w", err)
	}

	return nil
}
