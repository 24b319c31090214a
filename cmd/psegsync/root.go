package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/psegsync/psegsync/internal/config"
	"github.com/psegsync/psegsync/internal/engine"
	"github.com/psegsync/psegsync/internal/notify"
	"github.com/psegsync/psegsync/internal/provider"
	"github.com/psegsync/psegsync/internal/publisher"
	"github.com/psegsync/psegsync/internal/session"
	"github.com/psegsync/psegsync/internal/statistics"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "psegsync",
	Short: "Collect PSEG Long Island usage data and backfill hourly statistics",
	Long: `psegsync pulls hourly on-peak/off-peak electricity usage from the PSEG
Long Island web portal and records it as cumulative statistics in a local
SQLite store. Session cookies are refreshed through the browser automation
addon or supplied manually.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "statistics database file (default is ./statistics.db)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the statistics database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "statistics.db"
}

// loadConfig loads the configuration file
func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

// saveConfig saves the configuration file
func saveConfig(cfg *config.Config) error {
	return config.Save(getConfigPath(), cfg)
}

// openStore opens the statistics store
func openStore() (*statistics.Store, error) {
	path := getDBPath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return statistics.Open(path)
}

// newSessionManager wires the session manager from config: automation
// addon when configured, Home Assistant notifications when enabled, and
// cookie persistence back into the config file.
func newSessionManager(cfg *config.Config) *session.Manager {
	var automation session.Automation
	if cfg.Automation.URL != "" {
		automation = session.NewAutomationClient(cfg.Automation.URL)
	}

	mgr := session.NewManager(cfg.Account.Username, cfg.Account.Password, cfg.Account.Cookie, automation)

	if cfg.HomeAssistant.Enabled {
		mgr.SetNotifier(notify.NewHomeAssistant(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token))
	}

	mgr.OnUpdate(func(cookie string) {
		cfg.Account.Cookie = cookie
		if err := saveConfig(cfg); err != nil {
			fmt.Printf("Warning: Could not save refreshed cookie: %v\n", err)
		}
	})

	return mgr
}

// newEngine wires a backfill engine plus its session manager from config.
// The caller owns the returned store and must close it.
func newEngine(cfg *config.Config) (*engine.Engine, *session.Manager, *statistics.Store, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening statistics store: %w", err)
	}

	mgr := newSessionManager(cfg)
	eng := engine.New(mgr, provider.NewPSEGLIClient(cfg.Fetch.BaseURL), store)

	if cfg.MQTT.Enabled {
		pub, err := publisher.New(cfg.MQTT, cfg.GetTopicPrefix())
		if err != nil {
			store.Close()
			return nil, nil, nil, fmt.Errorf("creating publisher: %w", err)
		}
		eng.SetPublisher(pub)
	}

	return eng, mgr, store, nil
}
