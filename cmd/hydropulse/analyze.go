package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"hydropulse/internal/correlation"
	"hydropulse/internal/data"
	"hydropulse/internal/forensic"
	"hydropulse/internal/gateway"
	"hydropulse/internal/recovery"
	"hydropulse/internal/signal"
	"hydropulse/internal/telemetry"
	"hydropulse/internal/truth"
)

func newCorrelateCmd(e *env) *cobra.Command {
	var (
		dataPath  string
		window    int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Rank every signal pair of a recorded session by Pearson correlation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := data.LoadReplayJSON(dataPath)
			if err != nil {
				return err
			}
			tags := gateway.UnitTags()
			if e.cfg.Gateway.TagsFile != "" {
				if tags, err = gateway.LoadTags(e.cfg.Gateway.TagsFile); err != nil {
					return err
				}
			}
			gw, err := gateway.New(tags, e.log)
			if err != nil {
				return err
			}
			defer gw.Close()
			bank, err := signal.NewBank(e.cfg.FilterOptions())
			if err != nil {
				return err
			}
			history := e.cfg.Telemetry.History
			if window > history {
				history = window
			}
			store, err := telemetry.NewStore(truth.NewJudge(), bank, e.log, telemetry.WithHistory(history))
			if err != nil {
				return err
			}
			for _, s := range in.Samples {
				store.Apply(gw.Normalize(s))
			}

			series := store.Snapshot().Series()
			if window > 0 {
				for id, s := range series {
					if len(s) > window {
						series[id] = s[len(s)-window:]
					}
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-4s %-28s %-28s %-8s %s\n", "rank", "a", "b", "r", "synergy")
			n := 0
			for _, p := range correlation.RankPairs(series) {
				if math.Abs(p.R) < threshold {
					continue
				}
				n++
				synergy := ""
				if p.R > e.cfg.Pipeline.SynergyThreshold {
					synergy = "yes"
				}
				fmt.Fprintf(out, "%-4d %-28s %-28s %-8.3f %s\n", n, p.A, p.B, p.R, synergy)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "session.json", "recorded session JSON")
	cmd.Flags().IntVar(&window, "window", 0, "correlate only the last N points of each signal (0=history)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "hide pairs with |r| below this")
	return cmd
}

func newDiagnoseCmd(e *env) *cobra.Command {
	var (
		values    map[string]string
		histories map[string]string
		depth     int
	)
	cmd := &cobra.Command{
		Use:   "diagnose <symptom-metric>",
		Short: "Trace a symptom back to its root cause from given readings",
		Example: `  hydropulse diagnose vibration --set vibration=7.4,temperature=82,oil_temperature=71 --depth 2
  hydropulse diagnose cavitation --set cavitation=0.9,flow=95 --history flow=80;85;90;95 --history cavitation=0.6;0.7;0.8;0.9`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := forensic.StaticState{
				Values:    map[string]float64{},
				Histories: map[string][]float64{},
			}
			for metric, raw := range values {
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("--set %s: %w", metric, err)
				}
				state.Values[metric] = v
			}
			for metric, raw := range histories {
				h, err := parseSeries(raw)
				if err != nil {
					return fmt.Errorf("--history %s: %w", metric, err)
				}
				state.Histories[metric] = h
			}

			opts := e.cfg.ForensicOptions()
			if depth > 0 {
				opts.MaxDepth = depth
			}
			chain := forensic.NewService(forensic.MustDefaultGraph(), opts, e.log).Diagnose(args[0], state)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, chain.Description)
			if action, ok := recovery.MatchProtocol(recovery.DefaultRules(), chain); ok {
				fmt.Fprintf(out, "Protocol: %s on %s (adjust %.1f, confidence %.2f)\n",
					action.Protocol, action.TargetMetric, action.AdjustmentValue, action.Confidence)
			} else {
				fmt.Fprintln(out, "Protocol: none, manual investigation required")
			}
			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(chain)
		},
	}
	cmd.Flags().StringToStringVar(&values, "set", nil, "current metric values, metric=value")
	cmd.Flags().StringToStringVar(&histories, "history", nil, "recent raw history, metric=v1;v2;...")
	cmd.Flags().IntVar(&depth, "depth", 0, "upstream hops to search (0=config)")
	return cmd
}

// parseSeries reads a ';' separated series. pflag already splits flag
// values on commas.
func parseSeries(raw string) ([]float64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' })
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
