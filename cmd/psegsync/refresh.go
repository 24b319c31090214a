package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCookie string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the PSEG session cookie",
	Long: `Obtains a fresh session cookie and saves it to the config file.

With --cookie, the supplied value is adopted directly (copy it from your
browser's developer tools). Otherwise the browser automation addon is asked
to perform a login with the configured username and password.`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().StringVar(&refreshCookie, "cookie", "", "Adopt this cookie value directly instead of using the automation addon")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	mgr := newSessionManager(cfg)

	if refreshCookie != "" {
		mgr.AdoptCookie(refreshCookie)
		fmt.Println("✓ Cookie adopted and saved")
		return nil
	}

	if cfg.Automation.URL == "" {
		return fmt.Errorf("no automation addon configured. Set automation.url in %s or pass --cookie", getConfigPath())
	}

	sess, err := mgr.Refresh(cmd.Context(), "manual refresh")
	if err != nil {
		return fmt.Errorf("refreshing cookie: %w", err)
	}

	fmt.Printf("✓ Cookie refreshed via automation addon (obtained at %s)\n",
		sess.ObtainedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
