package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// defaultMaxConns is the number of permitted active and idle
	// connections. We want a single writer with multiple readers.
	defaultMaxConns = 25

	// defaultConnMaxLifetime is the maximum amount of time a connection
	// can be reused for before it is closed.
	defaultConnMaxLifetime = 10 * time.Minute
)

// MemoryEndpoint selects a private in-process database that lives only as
// long as the Store that opened it.
const MemoryEndpoint = "memory"

// Config holds the arguments needed to open the backing database.
type Config struct {
	// Endpoint is either MemoryEndpoint or a directory under which the
	// database file for the (namespace, database) pair is created.
	Endpoint string

	// Namespace and Database select a logical partition. Each pair maps
	// to its own database file under Endpoint.
	Namespace string
	Database  string

	// SkipMigrations skips the schema bootstrap on open.
	SkipMigrations bool
}

// dsn renders the sqlite connection string for the config. In-memory
// databases use a unique shared-cache name so every connection of the pool
// sees the same data while separate Stores stay isolated.
func (c Config) dsn() (string, error) {
	const params = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

	if c.Endpoint == MemoryEndpoint {
		name := fmt.Sprintf("bioma-%s", uuid.NewString())
		return fmt.Sprintf(
			"file:%s?mode=memory&cache=shared&%s", name, params,
		), nil
	}

	dir := filepath.Join(c.Endpoint, c.Namespace)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}

	path := filepath.Join(dir, c.Database+".db")
	return fmt.Sprintf("file:%s?%s", path, params), nil
}

// Open opens the backing database for the given config, applies the
// connection pragmas and, unless skipped, runs the schema bootstrap.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(defaultMaxConns)
	sqlDB.SetMaxIdleConns(defaultMaxConns)
	sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := configurePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	s := newStore(sqlDB, log)

	if !cfg.SkipMigrations {
		if err := s.Migrate(); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("schema bootstrap: %w", err)
		}
	}

	return s, nil
}

// configurePragmas sets additional pragmas for performance. NORMAL
// synchronous keeps durability on WAL while avoiding an fsync per write.
func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}
