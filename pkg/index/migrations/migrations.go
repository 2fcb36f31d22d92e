// Package migrations embeds the dialect-specific DDL for the search index:
// the SQLite FTS5 shadow table with its sync triggers, and the PostgreSQL
// pg_trgm indexes. Plain tables are gorm-migrated; only search DDL lives
// here.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
