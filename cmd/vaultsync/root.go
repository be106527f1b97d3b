package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/internal/config"
	"github.com/forest6511/vaultsync/internal/logging"
	"github.com/forest6511/vaultsync/pkg/audit"
)

// version is set via ldflags.
var version = "dev"

// Global flags
var (
	dataDir  string
	cfgFile  string
	logLevel string
)

// a is the application wired by PersistentPreRunE.
var a *app

// upstream is the network transport handed to newApp; nil selects
// http.DefaultTransport.
var upstream http.RoundTripper

var rootCmd = &cobra.Command{
	Use:   "vaultsync",
	Short: "PIN-protected device secret with an offline-first HTTP client",
	Long: `vaultsync keeps one secret on this device behind a short numeric PIN and
routes HTTP traffic through a local cache and an offline write queue.

Wrong PINs are limited: after three failures the vault locks for 30 seconds,
and the seventh failure erases the stored secret.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupApp,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.vaultsync)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// setupApp loads configuration and opens the local store. Commands that do
// not touch local state skip it.
func setupApp(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationNoApp] == "true" || cmd.Name() == "help" {
		return nil
	}

	cfg, err := config.Load(config.Options{ConfigFile: cfgFile, DataDir: dataDir})
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	source := audit.SourceCLI
	if s, ok := cmd.Annotations[annotationSource]; ok {
		source = s
	}

	a, err = newApp(cfg, logger.With(zap.String("command", cmd.Name())), source, upstream)
	if err != nil {
		_ = logger.Sync()
		return fmt.Errorf("failed to open local data: %w", err)
	}
	return nil
}

func closeApp() error {
	if a == nil {
		return nil
	}
	err := a.Close()
	a = nil
	return err
}

// Command annotations read by setupApp.
const (
	annotationNoApp  = "vaultsync/no-app"
	annotationSource = "vaultsync/audit-source"
)
