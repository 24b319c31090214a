package main

import (
	"fmt"

	"github.com/psegsync/psegsync/pkg/models"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state and latest recorded statistics",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	mgr := newSessionManager(cfg)
	sess := mgr.Current()

	fmt.Printf("Session: %s\n", sess.Status)
	if sess.Cookie != "" {
		fmt.Printf("  obtained: %s\n", sess.ObtainedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if !sess.LastValidatedAt.IsZero() {
		fmt.Printf("  last validated: %s\n", sess.LastValidatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if cfg.Automation.URL != "" {
		fmt.Printf("Automation addon: %s\n", cfg.Automation.URL)
	} else {
		fmt.Println("Automation addon: not configured")
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening statistics store: %w", err)
	}
	defer store.Close()

	for _, period := range models.Periods {
		statID := period.StatisticID()
		point, err := store.LatestPoint(statID)
		if err != nil {
			return fmt.Errorf("reading latest point for %s: %w", statID, err)
		}
		if point == nil {
			fmt.Printf("%s: no data\n", statID)
			continue
		}
		fmt.Printf("%s: %.3f kWh at %s (cumulative %.3f)\n",
			statID, point.State, point.HourStart.Format("2006-01-02 15:04"), point.Sum)
	}

	return nil
}
