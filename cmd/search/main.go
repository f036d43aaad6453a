package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/illust-hq/illust-watcher/internal/app"
	"github.com/illust-hq/illust-watcher/internal/config"
	"github.com/illust-hq/illust-watcher/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "search failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := logger.Init(cfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()
	log := logger.Std{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	searcher, err := app.NewSearcher(cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize searcher", "error", err)
		return err
	}

	return searcher.Run(ctx)
}
