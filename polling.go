package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPollingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "polling",
		Short: "Inspect and tune the background polling rate limiter",
	}
	cmd.AddCommand(newPollingSetCmd())
	return cmd
}

func newPollingSetCmd() *cobra.Command {
	var (
		pollRate         float64
		hitRate          float64
		maxBurst         float64
		normalReserve    float64
		recentEditWindow string
		fullRepoll       string
	)

	cmd := &cobra.Command{
		Use:   "set <sd-id>",
		Short: "Update the token-bucket settings for a registered storage directory's polling group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			current, err := cc.Coordinator.PollingStatus(args[0])
			if err != nil {
				return err
			}
			settings := current.Settings

			if cmd.Flags().Changed("poll-rate") {
				settings.PollRatePerMinute = pollRate
			}
			if cmd.Flags().Changed("hit-rate-multiplier") {
				settings.HitRateMultiplier = hitRate
			}
			if cmd.Flags().Changed("max-burst") {
				settings.MaxBurstPerSecond = maxBurst
			}
			if cmd.Flags().Changed("normal-reserve") {
				settings.NormalPriorityReserve = normalReserve
			}
			if cmd.Flags().Changed("recent-edit-window") {
				d, err := time.ParseDuration(recentEditWindow)
				if err != nil {
					return fmt.Errorf("--recent-edit-window: %w", err)
				}
				settings.RecentEditWindow = d
			}
			if cmd.Flags().Changed("full-repoll-interval") {
				d, err := time.ParseDuration(fullRepoll)
				if err != nil {
					return fmt.Errorf("--full-repoll-interval: %w", err)
				}
				settings.FullRepollInterval = d
			}

			if err := cc.Coordinator.SetPollingSettings(args[0], settings); err != nil {
				return err
			}

			cc.Statusf("Updated polling settings for sd %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().Float64Var(&pollRate, "poll-rate", 0, "tokens refilled per minute")
	cmd.Flags().Float64Var(&hitRate, "hit-rate-multiplier", 0, "fraction of one token a satisfied poll costs (the rest is refunded)")
	cmd.Flags().Float64Var(&maxBurst, "max-burst", 0, "maximum tokens banked at once")
	cmd.Flags().Float64Var(&normalReserve, "normal-reserve", 0, "fraction of capacity reserved for normal-priority entries")
	cmd.Flags().StringVar(&recentEditWindow, "recent-edit-window", "", "how long after an edit a note stays high priority")
	cmd.Flags().StringVar(&fullRepoll, "full-repoll-interval", "", "how often a full repoll sweep is reseeded")

	return cmd
}
