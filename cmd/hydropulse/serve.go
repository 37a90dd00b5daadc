package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hydropulse/internal/app"
)

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, pipeline and API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Run(ctx); err != nil {
				return err
			}
			e.log.Info("Shut down cleanly", zap.String("config", e.cfgFile))
			return nil
		},
	}
}
