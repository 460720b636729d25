package commands

import (
	"context"
	"fmt"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/config"
	"github.com/clipforge/clipforge/pkg/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the task database.

This command applies pending database migrations to the configured database
(SQLite or PostgreSQL). It is required after upgrading ClipForge when schema
changes have been made.

Examples:
  # Run migrations with default config
  clipforged migrate

  # Run migrations with custom config
  clipforged migrate --config /etc/clipforge/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Running database migrations", "type", cfg.Database.Type)

	// Opening the store triggers auto-migration
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Verify the migration worked by running a trivial query
	ctx := context.Background()
	if _, err := st.CountTasksByStatus(ctx); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
