// Package pgstore implements the recording index and settings repositories
// on PostgreSQL for deployments that share one index across hosts.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/flowpbx/callcore/internal/database"
	"github.com/flowpbx/callcore/internal/database/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements database.RecordingRepository and
// database.SettingsRepository using PostgreSQL.
type Store struct {
	db *sql.DB

	mu       sync.RWMutex
	settings map[string]string
}

var (
	_ database.RecordingRepository = (*Store)(nil)
	_ database.SettingsRepository  = (*Store)(nil)
)

// New opens a PostgreSQL connection, runs pending migrations, and loads the
// settings cache.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, settings: make(map[string]string)}

	logger := slog.Default().With("subsystem", "pgstore")
	if err := s.migrate(ctx, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.loadSettings(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("postgresql store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// postgresDialect is the migration bookkeeping dialect for PostgreSQL.
var postgresDialect = database.Dialect{
	CreateTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		checksum   TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

func (s *Store) migrate(ctx context.Context, logger *slog.Logger) error {
	migrations, err := database.LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	_, err = database.Migrate(ctx, s.db, postgresDialect, migrations, logger)
	return err
}

const recordingColumns = `id, session_id, call_id, file_path, format, direction,
	 phone_number, sample_rate, frames_total, frames_encoded, buffer_overruns,
	 was_ever_paused, was_ever_holding, started_at, ended_at`

// Create inserts a finished recording into the index.
func (s *Store) Create(ctx context.Context, rec *models.Recording) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO recordings (session_id, call_id, file_path, format, direction,
		 phone_number, sample_rate, frames_total, frames_encoded, buffer_overruns,
		 was_ever_paused, was_ever_holding, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		rec.SessionID, rec.CallID, rec.FilePath, rec.Format, rec.Direction,
		rec.PhoneNumber, rec.SampleRate, rec.FramesTotal, rec.FramesEncoded,
		rec.BufferOverruns, rec.WasEverPaused, rec.WasEverHolding,
		rec.StartedAt.UTC(), rec.EndedAt.UTC(),
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("inserting recording: %w", err)
	}
	return nil
}

// GetBySessionID returns the recording for a capture session.
// Returns nil, nil if the session was never indexed.
func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (*models.Recording, error) {
	var rec models.Recording
	err := s.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE session_id = $1`, sessionID,
	).Scan(recordingDest(&rec)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying recording: %w", err)
	}
	return &rec, nil
}

// List returns recordings matching the filter, newest first, along with the
// total count.
func (s *Store) List(ctx context.Context, filter database.RecordingListFilter) ([]models.Recording, int, error) {
	where := "TRUE"
	args := []any{}

	if filter.Direction != "" {
		args = append(args, filter.Direction)
		where += " AND direction = $" + strconv.Itoa(len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += " AND phone_number LIKE $" + strconv.Itoa(len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recordings WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting recordings: %w", err)
	}

	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE ` + where +
		` ORDER BY started_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	args = append(args, filter.Offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing recordings: %w", err)
	}
	defer rows.Close()

	var recs []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(recordingDest(&rec)...); err != nil {
			return nil, 0, fmt.Errorf("scanning recording row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating recording rows: %w", err)
	}
	return recs, total, nil
}

// CountByDirection returns the number of indexed recordings per direction.
func (s *Store) CountByDirection(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT direction, COUNT(*) FROM recordings GROUP BY direction")
	if err != nil {
		return nil, fmt.Errorf("counting recordings by direction: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var dir string
		var n int64
		if err := rows.Scan(&dir, &n); err != nil {
			return nil, fmt.Errorf("scanning direction count: %w", err)
		}
		counts[dir] = n
	}
	return counts, rows.Err()
}

// DeleteExpired removes index rows older than maxDays and returns the audio
// file paths they referenced.
func (s *Store) DeleteExpired(ctx context.Context, maxDays int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM recordings
		 WHERE started_at < NOW() - make_interval(days => $1)
		 RETURNING file_path`, maxDays)
	if err != nil {
		return nil, fmt.Errorf("deleting expired recordings: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning expired recording path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Get returns a cached setting and whether it has ever been set.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

// Set upserts a setting in both the database and cache.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}

	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	return nil
}

// GetAll returns every stored setting ordered by key.
func (s *Store) GetAll(ctx context.Context) ([]models.Setting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var out []models.Setting
	for rows.Next() {
		var st models.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) loadSettings(ctx context.Context) error {
	all, err := s.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range all {
		s.settings[st.Key] = st.Value
	}
	return nil
}

func recordingDest(rec *models.Recording) []any {
	return []any{&rec.ID, &rec.SessionID, &rec.CallID, &rec.FilePath, &rec.Format,
		&rec.Direction, &rec.PhoneNumber, &rec.SampleRate, &rec.FramesTotal,
		&rec.FramesEncoded, &rec.BufferOverruns, &rec.WasEverPaused,
		&rec.WasEverHolding, &rec.StartedAt, &rec.EndedAt}
}
