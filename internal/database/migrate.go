package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Migration is one schema step loaded from a NNN_name.sql file.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Dialect holds the driver-specific parts of the migration bookkeeping.
type Dialect struct {
	// CreateTable creates schema_migrations if it does not exist.
	CreateTable string
	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder func(n int) string
}

// SQLiteDialect is the bookkeeping dialect for the embedded index.
var SQLiteDialect = Dialect{
	CreateTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		checksum   TEXT NOT NULL,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`,
	Placeholder: func(int) string { return "?" },
}

// LoadMigrations reads every .sql file in dir, ordered by numeric version.
// File names must start with a version number followed by an underscore,
// and versions must be unique.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 || name == "" {
			return nil, fmt.Errorf("migration %s: name must look like 001_description.sql", entry.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by both %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrate applies pending migrations in version order, each in its own
// transaction together with its schema_migrations row. Already applied
// migrations must be unchanged. It returns how many migrations were applied.
func Migrate(ctx context.Context, db *sql.DB, d Dialect, migrations []Migration, logger *slog.Logger) (int, error) {
	if _, err := db.ExecContext(ctx, d.CreateTable); err != nil {
		return 0, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return 0, err
	}

	insert := fmt.Sprintf("INSERT INTO schema_migrations (version, name, checksum) VALUES (%s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))

	n := 0
	for _, m := range migrations {
		if sum, ok := applied[m.Version]; ok {
			if sum != m.Checksum {
				return n, fmt.Errorf("migration %03d_%s changed after it was applied", m.Version, m.Name)
			}
			continue
		}

		if err := applyMigration(ctx, db, insert, m); err != nil {
			return n, err
		}
		n++
		logger.Info("applied migration", "version", m.Version, "name", m.Name)
	}
	return n, nil
}

func appliedChecksums(ctx context.Context, db *sql.DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var (
			version int
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, insert string, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %03d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing migration %03d_%s: %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, insert, m.Version, m.Name, m.Checksum); err != nil {
		return fmt.Errorf("recording migration %03d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %03d: %w", m.Version, err)
	}
	return nil
}
