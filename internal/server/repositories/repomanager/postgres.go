// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/server/migrations"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/contributors"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/recordings"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/stats"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/workitems"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Contributors returns a contributors.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Contributors(db dbx.DBTX) contributors.Repository {
	return contributors.NewPostgresRepository(db)
}

// WorkItems returns a workitems.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) WorkItems(db dbx.DBTX) workitems.Repository {
	return workitems.NewPostgresRepository(db)
}

// Recordings returns a recordings.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Recordings(db dbx.DBTX) recordings.Repository {
	return recordings.NewPostgresRepository(db)
}

// Stats returns a stats.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Stats(db dbx.DBTX) stats.Repository {
	return stats.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
