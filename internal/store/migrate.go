package store

import (
	"context"
	"fmt"

	"github.com/oriys/embedstar/internal/embederr"
	"github.com/oriys/embedstar/internal/logging"
)

// Migration is one versioned schema step. Up and Down are multi-statement
// scripts; each runs inside a transaction together with the bookkeeping
// write, so a failed step leaves no trace.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "add_embedding_fields",
		Up: `DEFINE FIELD IF NOT EXISTS embedding ON TABLE repo TYPE option<array<float>>;
DEFINE FIELD IF NOT EXISTS embedding_generated_at ON TABLE repo TYPE option<datetime>;`,
		Down: `REMOVE FIELD embedding ON TABLE repo;
REMOVE FIELD embedding_generated_at ON TABLE repo;`,
	},
	{
		Version: 2,
		Name:    "add_embedding_indexes",
		Up:      `DEFINE INDEX IF NOT EXISTS idx_repo_embedding_generated_at ON TABLE repo COLUMNS embedding_generated_at;`,
		Down:    `REMOVE INDEX idx_repo_embedding_generated_at ON TABLE repo;`,
	},
}

const migrationTable = `DEFINE TABLE IF NOT EXISTS migration SCHEMAFULL;
DEFINE FIELD version ON TABLE migration TYPE int;
DEFINE FIELD name ON TABLE migration TYPE string;
DEFINE FIELD applied_at ON TABLE migration TYPE datetime;
DEFINE INDEX idx_migration_version ON TABLE migration COLUMNS version UNIQUE;`

// MigrationVersion reads the highest applied migration version, 0 when none.
func (s *Store) MigrationVersion(ctx context.Context) (int, error) {
	resp, err := s.query(ctx, "SELECT VALUE version FROM migration ORDER BY version DESC LIMIT 1", nil)
	if err != nil {
		return 0, err
	}

	var versions []int
	if err := resp.Take(0, &versions); err != nil {
		return 0, embederr.Wrap(embederr.Database, err)
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[0], nil
}

// Migrate applies every pending migration in version order.
func (s *Store) Migrate(ctx context.Context) error {
	logging.Op().Info("running database migrations")

	if _, err := s.query(ctx, migrationTable, nil); err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	current, err := s.MigrationVersion(ctx)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	logging.Op().Info("current migration version", "version", current)

	pending := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		pending++

		logging.Op().Info("applying migration", "version", m.Version, "name", m.Name)
		script := fmt.Sprintf(
			"BEGIN TRANSACTION;\n%s\nCREATE migration CONTENT { version: $version, name: $name, applied_at: time::now() };\nCOMMIT TRANSACTION;",
			m.Up,
		)
		if _, err := s.query(ctx, script, map[string]any{
			"version": m.Version,
			"name":    m.Name,
		}); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		logging.Op().Info("migration applied", "version", m.Version)
	}

	if pending == 0 {
		logging.Op().Info("no pending migrations")
	} else {
		logging.Op().Info("migrations complete", "applied", pending)
	}
	return nil
}

// Rollback reverts migrations above target, newest first.
func (s *Store) Rollback(ctx context.Context, target int) error {
	current, err := s.MigrationVersion(ctx)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	if target >= current {
		logging.Op().Warn("nothing to roll back", "target", target, "current", current)
		return nil
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version <= target || m.Version > current {
			continue
		}

		logging.Op().Info("rolling back migration", "version", m.Version, "name", m.Name)
		script := fmt.Sprintf(
			"BEGIN TRANSACTION;\n%s\nDELETE migration WHERE version = $version;\nCOMMIT TRANSACTION;",
			m.Down,
		)
		if _, err := s.query(ctx, script, map[string]any{"version": m.Version}); err != nil {
			return fmt.Errorf("rollback migration %d (%s): %w", m.Version, m.Name, err)
		}
		logging.Op().Info("migration rolled back", "version", m.Version)
	}
	return nil
}
