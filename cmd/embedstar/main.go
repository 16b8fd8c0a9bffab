package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/embedstar/internal/config"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "embedstar",
		Short: "Embedding pipeline for starred-repository records",
		Long:  "Continuously discovers repository records without embeddings and backfills them via the serve command",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers the optional config file and env overrides on the
// defaults.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
