// Command api runs the node with configuration from HYDROPULSE_CONFIG and
// the environment. `hydropulse serve` is the same server with a CLI around it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"hydropulse/internal/app"
	"hydropulse/internal/config"
	"hydropulse/internal/observability"
)

func main() {
	cfg, err := config.Load(os.Getenv("HYDROPULSE_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := observability.InitializeStdout(cfg.Log)
	defer observability.Sync(logger)

	if wd, err := os.Getwd(); err == nil {
		logger.Info("Working directory", zap.String("dir", wd), zap.String("static_dir", cfg.API.StaticDir))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build node", zap.Error(err))
	}
	err = a.Run(ctx)
	a.Close()
	if err != nil {
		logger.Error("Node stopped", zap.Error(err))
		observability.Sync(logger)
		os.Exit(1)
	}
}
