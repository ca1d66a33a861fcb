package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// LatestMigrationVersion is the latest migration version of the database.
// This is used to implement downgrade protection.
//
// NOTE: This MUST be updated when a new migration is added.
const LatestMigrationVersion uint = 1

// ErrMigrationDowngrade is returned when a database downgrade is detected.
var ErrMigrationDowngrade = errors.New("database downgrade detected")

// migrationLogger wraps slog to implement the migrate.Logger interface.
type migrationLogger struct {
	log interface {
		InfoContext(ctx context.Context, msg string, args ...any)
	}
}

// Printf implements the migrate.Logger interface.
func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.InfoContext(context.Background(), fmt.Sprintf(format, v...))
}

// Verbose returns true when verbose logging is enabled.
func (m *migrationLogger) Verbose() bool {
	return true
}

// Migrate applies all pending schema migrations from the embedded migration
// files. The operation is idempotent: an up-to-date database is a no-op.
func (s *Store) Migrate() error {
	driver, err := sqlite_migrate.WithInstance(
		s.db, &sqlite_migrate.Config{},
	)
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	src, err := httpfs.New(http.FS(sqlSchemas), "migrations")
	if err != nil {
		return err
	}

	sqlMigrate, err := migrate.NewWithInstance(
		"migrations", src, "sqlite", driver,
	)
	if err != nil {
		return err
	}

	version, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}

	// A dirty version means a previous migration did not complete and
	// requires manual intervention before we touch the schema again.
	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", version)
	}

	// As down migrations may end up dropping data, refuse to run against
	// a database that is newer than this binary.
	if version > LatestMigrationVersion {
		return fmt.Errorf("%w: db_version=%v, "+
			"latest_migration_version=%v", ErrMigrationDowngrade,
			version, LatestMigrationVersion)
	}

	s.log.InfoContext(
		context.Background(), "Applying schema migrations",
		"current_version", version,
		"latest_version", LatestMigrationVersion,
	)

	sqlMigrate.Log = &migrationLogger{s.log}

	err = sqlMigrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// Reset drops every table, including the migration bookkeeping, and reapplies
// the schema from scratch. No attempt is made to preserve in-flight frames.
func (s *Store) Reset(ctx context.Context) error {
	drops := []string{
		"DROP TABLE IF EXISTS health",
		"DROP TABLE IF EXISTS replies",
		"DROP TABLE IF EXISTS requests",
		"DROP TABLE IF EXISTS actors",
		"DROP TABLE IF EXISTS schema_migrations",
	}

	for _, stmt := range drops {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset: %w", MapSQLError(err))
		}
	}

	return s.Migrate()
}
