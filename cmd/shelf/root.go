package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/shelf"
	"github.com/discochess/shelf/internal/config"
	"github.com/discochess/shelf/internal/stats/logger"
)

var (
	// Global flags.
	configPath string
	tokenFile  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "shelf",
	Short: "Browse and lend books from the library inventory",
	Long: `Shelf keeps the lending library inventory in memory in front of
Airtable, and records checkouts and returns back to it.

Examples:
  # List the books with a copy on the shelf
  shelf books --available

  # Lend a copy
  shelf checkout recDune usrAda

  # Serve the HTTP API
  shelf serve --addr :8000`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "file holding the Airtable token (overrides the config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if tokenFile != "" {
		cfg.Airtable.TokenFile = tokenFile
	}
	if verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
	return cfg, nil
}

// newClient builds a client for a one-shot command. Metrics go to the
// debug log.
func newClient(cfg config.Config) (*shelf.Client, *zap.Logger, error) {
	log, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	if err := cfg.LoadToken(); err != nil {
		return nil, nil, err
	}

	backend, err := cfg.NewAirtable(log)
	if err != nil {
		return nil, nil, fmt.Errorf("creating airtable client: %w", err)
	}

	opts := append(cfg.ClientOptions(),
		shelf.WithBackend(backend),
		shelf.WithStats(logger.New(log.Named("shelf.stats"))),
		shelf.WithLogger(log.Named("shelf")),
	)
	client, err := shelf.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating client: %w", err)
	}
	return client, log, nil
}
