// Package store persists server state in SQL databases.
//
// The driver is chosen from the database URL:
//
//	sqlite:///./data/mcp.db          modernc.org/sqlite (pure Go)
//	postgres://user@host/db          github.com/jackc/pgx/v5 via database/sql
//	postgresql://user@host/db
//
// Queries are written with ? placeholders and rebound for PostgreSQL.
// When auto-creation is enabled the schema is created on Open.
package store
