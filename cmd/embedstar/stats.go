package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print embedding coverage",
		Long:  "Report total, embedded and pending record counts, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.SetLevelFromString(cfg.LogLevel)
			metrics.Init()

			s, closePool := openStore(cfg)
			defer closePool()

			ctx := context.Background()
			total, err := s.TotalRepoCount(ctx)
			if err != nil {
				return err
			}
			embedded, err := s.EmbeddedRepoCount(ctx)
			if err != nil {
				return err
			}
			pending, err := s.PendingRepoCount(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Records:  %d\n", total)
			fmt.Printf("Embedded: %d\n", embedded)
			fmt.Printf("Pending:  %d\n", pending)
			if total > 0 {
				fmt.Printf("Coverage: %.1f%%\n", 100*float64(embedded)/float64(total))
			}
			return nil
		},
	}
}
