package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is the UTC text layout used for every timestamp column.
const timeLayout = "2006-01-02 15:04:05"

// DB wraps a sql.DB connection with the recording index schema applied.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite index at dataDir/callcore.db with WAL
// mode enabled and runs any pending migrations.
func Open(dataDir string) (*DB, error) {
	logger := slog.Default().With("subsystem", "database")

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "callcore.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}
	if err := db.migrate(logger); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("database opened", "path", dbPath)
	return db, nil
}

// migrate applies the embedded schema.
func (db *DB) migrate(logger *slog.Logger) error {
	migrations, err := LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	_, err = Migrate(context.Background(), db.DB, SQLiteDialect, migrations, logger)
	return err
}
