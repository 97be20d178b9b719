package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and palette overlaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			if err := enc.Close(); err != nil {
				return err
			}
			for _, o := range cfg.Overlaps() {
				fmt.Fprintf(cmd.OutOrStdout(), "# overlap %s: %q and %q are %.1f apart\n", o.Unit, o.First.Label, o.Second.Label, o.Distance)
			}
			return nil
		},
	}
}
