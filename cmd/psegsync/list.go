package main

import (
	"fmt"
	"time"

	"github.com/psegsync/psegsync/pkg/models"
	"github.com/spf13/cobra"
)

var (
	listPeriod string
	listSince  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded statistic buckets",
	Long:  `Lists hour-bucketed statistic points from the local store.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listPeriod, "period", "", "Only list one period (on_peak or off_peak)")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only list buckets since this date (YYYY-MM-DD)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening statistics store: %w", err)
	}
	defer store.Close()

	var since time.Time
	if listSince != "" {
		since, err = time.Parse("2006-01-02", listSince)
		if err != nil {
			return fmt.Errorf("parsing --since date: %w", err)
		}
	}

	periods := models.Periods
	if listPeriod != "" {
		p := models.Period(listPeriod)
		if p != models.PeriodOnPeak && p != models.PeriodOffPeak {
			return fmt.Errorf("unknown period: %s (available: on_peak, off_peak)", listPeriod)
		}
		periods = []models.Period{p}
	}

	for _, period := range periods {
		statID := period.StatisticID()
		points, err := store.ListPoints(statID, since, time.Time{})
		if err != nil {
			return fmt.Errorf("listing points for %s: %w", statID, err)
		}

		fmt.Printf("=== %s (%d buckets)\n", statID, len(points))
		for _, p := range points {
			fmt.Printf("%s  %8.3f kWh  (sum %10.3f)\n",
				p.HourStart.Format("2006-01-02 15:04"), p.State, p.Sum)
		}
	}

	return nil
}
