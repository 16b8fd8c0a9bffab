package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/embedstar/internal/config"
	"github.com/oriys/embedstar/internal/db"
	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
	"github.com/oriys/embedstar/internal/retry"
	"github.com/oriys/embedstar/internal/store"
)

// openStore connects a small pool for one-shot commands.
func openStore(cfg *config.Config) (*store.Store, func()) {
	pool := db.NewPool(db.PoolConfig{
		Conn: db.Config{
			URL:       cfg.DBURL,
			User:      cfg.DBUser,
			Pass:      cfg.DBPass,
			Namespace: cfg.DBNamespace,
			Database:  cfg.DBDatabase,
		},
		Size:        1,
		MaxSize:     2,
		WaitTimeout: 10 * time.Second,
	})
	return store.New(pool, retry.DefaultConfig()), pool.Close
}

func migrateCmd() *cobra.Command {
	var rollbackTo int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Long:  "Apply pending schema migrations, or roll back to a version with --rollback-to",
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
			if cmd.Flags().Changed("rollback-to") {
				return s.Rollback(ctx, rollbackTo)
			}
			return s.Migrate(ctx)
		},
	}

	cmd.Flags().IntVar(&rollbackTo, "rollback-to", 0, "Roll back migrations down to this version")

	return cmd
}
