package index

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql
	"gorm.io/gorm"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/index/migrations"
)

const migrationsTable = "fs_index_schema_migrations"

// runMigrations applies the dialect-specific search DDL on top of the
// gorm-migrated plain tables.
func runMigrations(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}

	dialect := db.Dialector.Name()

	var driver database.Driver
	switch dialect {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{
			MigrationsTable: migrationsTable,
		})
	case "postgres":
		driver, err = migratepg.WithInstance(sqlDB, &migratepg.Config{
			MigrationsTable: migrationsTable,
		})
	default:
		return fmt.Errorf("unsupported dialect for index migrations: %s", dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, dialect)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dialect, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("index migration failed: %w", err)
	}
	if err == migrate.ErrNoChange {
		logger.Debug("search index schema is up to date")
	} else {
		logger.Debug("search index migrations applied", "dialect", dialect)
	}

	return nil
}
