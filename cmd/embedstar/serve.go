package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/service"
)

func serveCmd() *cobra.Command {
	var (
		logLevel string
		provider string
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the embedding pipeline",
		Long:  "Run discovery, embedding generation, batched write-back and the monitoring endpoint until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("provider") {
				cfg.EmbeddingProvider = provider
			}
			if cmd.Flags().Changed("workers") {
				cfg.ParallelWorkers = workers
			}

			logging.Op().Info("starting embedstar")
			fmt.Print(cfg.String())

			ctx := context.Background()
			svc, err := service.New(ctx, cfg)
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&provider, "provider", "", "Embedding provider (ollama, openai, together, bedrock)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel worker count")

	return cmd
}
