package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hydropulse/internal/config"
	"hydropulse/internal/observability"
)

// env carries what PersistentPreRunE resolved to the subcommands.
type env struct {
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "hydropulse",
		Short:         "Hydropower telemetry validation, correlation and self-healing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync(e.log)
		},
	}
	root.PersistentFlags().StringVarP(&e.cfgFile, "config", "c", "", "config file (defaults and HYDROPULSE_* env when empty)")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newServeCmd(e),
		newReplayCmd(e),
		newCorrelateCmd(e),
		newDiagnoseCmd(e),
		newConfigCmd(),
	)
	return root
}

func (e *env) load(cmd *cobra.Command) error {
	cfg, err := config.Load(e.cfgFile)
	if err != nil {
		return err
	}
	if e.logLevel != "" {
		cfg.Log.Level = e.logLevel
	}
	e.cfg = cfg
	e.log = observability.Initialize(cfg.Log, zapcore.AddSync(cmd.ErrOrStderr()))
	return nil
}
