package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/config"
	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/index"
	"github.com/gatefs/gatefs/pkg/upload"
	"github.com/gatefs/gatefs/pkg/vindex"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the gateway database.

This command applies pending schema migrations to the configured database
(SQLite or PostgreSQL): upload sessions and parts, the search index with its
full-text shadow and dirty queue, and the virtual directory trees. It is
required after upgrading GateFS when schema changes have been made.

Examples:
  # Run migrations with default config
  gatefs migrate

  # Run migrations with custom config
  gatefs migrate --config /etc/gatefs/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Running database migrations", "type", cfg.Database.Type)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	// Store constructors apply their own schemas
	if _, err := upload.NewGORMStore(db); err != nil {
		return fmt.Errorf("session store migration failed: %w", err)
	}
	indexStore, err := index.NewGORMStore(db)
	if err != nil {
		return fmt.Errorf("index store migration failed: %w", err)
	}
	if _, err := vindex.NewStore(db); err != nil {
		return fmt.Errorf("virtual index migration failed: %w", err)
	}

	// Verify the migration worked by running a trivial query
	if _, err := indexStore.GetIndexStates(context.Background(), nil); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
