package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"hydropulse/internal/data"
	"hydropulse/internal/gateway"
	"hydropulse/internal/recovery"
	"hydropulse/internal/replay"
)

func newReplayCmd(e *env) *cobra.Command {
	var (
		dataPath   string
		tracePath  string
		ledgerPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a recorded session through the pipeline and write the trace and healing ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := data.LoadReplayJSON(dataPath)
			if err != nil {
				return err
			}
			if limit > 0 && limit < len(in.Samples) {
				in.Samples = in.Samples[:limit]
			}
			var tags []gateway.Tag
			if e.cfg.Gateway.TagsFile != "" {
				if tags, err = gateway.LoadTags(e.cfg.Gateway.TagsFile); err != nil {
					return err
				}
			}

			res, err := replay.New(e.cfg, tags, e.log).Run(cmd.Context(), in)
			if err != nil {
				return err
			}

			for _, p := range []string{tracePath, ledgerPath} {
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					return err
				}
			}
			if err := replay.WriteTraceCSV(tracePath, res.Trace); err != nil {
				return err
			}
			if err := recovery.WriteLedgerCSV(ledgerPath, res.Ledger); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %d trace rows to %s\n", len(res.Trace), tracePath)
			fmt.Fprintf(out, "Wrote %d ledger rows to %s\n", len(res.Ledger), ledgerPath)
			fmt.Fprintf(out, "Samples rejected=%d held=%d anomalies=%d alerts=%d\n",
				res.Rejected, res.Held, len(res.Anomalies), len(res.Alerts))
			s := res.Summary
			fmt.Fprintf(out, "Healing attempts=%d auto=%d advisory=%d loss=EUR %.2f mean effectiveness=%.3f\n",
				s.Attempts, s.AutoExecuted, s.Advisory, s.TotalLossEUR, s.MeanEffective)
			if res.Plan != nil {
				fmt.Fprintf(out, "Net profit rate=%s EUR/h molecular debt=%s EUR/h\n",
					res.Plan.NetProfitRate.StringFixed(2), res.Plan.MolecularDebtRate.StringFixed(2))
				for _, r := range res.Plan.Recommendations {
					fmt.Fprintf(out, "  %-16s %.2f %s\n", r.Kind, r.Confidence, r.Title)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "session.json", "recorded session JSON")
	cmd.Flags().StringVar(&tracePath, "out", "results/trace.csv", "per-sample trace CSV")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "results/ledger.csv", "healing ledger CSV")
	cmd.Flags().IntVarP(&limit, "n", "n", 0, "replay only the first N samples (0=all)")
	return cmd
}
