package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"hydropulse/internal/config"
	"hydropulse/internal/gateway"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
		// Writing a starter config must work without a valid one.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		outPath  string
		tagsPath string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and, optionally, the unit tag table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if tagsPath != "" {
				if err := writeFile(tagsPath, force, func(w io.Writer) error {
					return gateway.WriteTags(w, gateway.UnitTags())
				}); err != nil {
					return err
				}
				cfg.Gateway.TagsFile = tagsPath
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", tagsPath)
			}
			if outPath == "-" {
				return config.Write(cmd.OutOrStdout(), cfg)
			}
			if err := writeFile(outPath, force, func(w io.Writer) error { return config.Write(w, cfg) }); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "config.yaml", "config file to write, - for stdout")
	cmd.Flags().StringVar(&tagsPath, "tags", "", "also write the unit tag table here")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")
	return cmd
}

func writeFile(path string, force bool, write func(io.Writer) error) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
