package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill [days]",
	Short: "Fetch usage data and backfill hourly statistics",
	Long: `Fetches on-peak/off-peak usage from the PSEG portal for the last N days
and writes hourly statistic buckets. With no argument (or 0), fetches
yesterday through today. Safe to re-run over overlapping ranges; existing
buckets are recomputed to the same values, never double-counted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Backfill started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	daysBack := 0
	if len(args) == 1 {
		var err error
		daysBack, err = strconv.Atoi(args[0])
		if err != nil || daysBack < 0 {
			return fmt.Errorf("days must be a non-negative integer, got %q", args[0])
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Account.Cookie == "" && (cfg.Account.Username == "" || cfg.Account.Password == "") {
		return fmt.Errorf("no authentication configured. Add a cookie or username/password to %s, or run 'psegsync refresh'", getConfigPath())
	}

	eng, _, store, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := eng.RunBackfill(cmd.Context(), daysBack)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	fmt.Printf("✓ Fetched %d readings across %d days, wrote %d hour buckets\n",
		summary.Readings, summary.DaysFetched, summary.PointsWritten)
	if len(summary.DaysFailed) > 0 {
		fmt.Printf("⚠ %d days failed: %s\n", len(summary.DaysFailed), strings.Join(summary.DaysFailed, ", "))
	}
	return nil
}
