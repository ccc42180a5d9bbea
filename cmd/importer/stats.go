package main

import (
	"github.com/spf13/cobra"
)

func newStatsCmd(root *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recent imports and open quality flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			window := days
			if !cmd.Flags().Changed("days") {
				window = a.cfg.Importer.StatsWindowDays
			}
			stats, err := a.batches.Statistics(cmd.Context(), window)
			if err != nil {
				return err
			}
			return printJSON(root.out, stats)
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Trailing window in days (default: importer.stats_window_days)")
	return cmd
}
