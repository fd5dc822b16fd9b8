package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowpbx/callcore/internal/database/models"
)

const recordingColumns = `id, session_id, call_id, file_path, format, direction,
	 phone_number, sample_rate, frames_total, frames_encoded, buffer_overruns,
	 was_ever_paused, was_ever_holding, started_at, ended_at`

// recordingRepo implements RecordingRepository on SQLite.
type recordingRepo struct {
	db  *DB
	now func() time.Time
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *DB) RecordingRepository {
	return &recordingRepo{db: db, now: time.Now}
}

// Create inserts a finished recording into the index.
func (r *recordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO recordings (session_id, call_id, file_path, format, direction,
		 phone_number, sample_rate, frames_total, frames_encoded, buffer_overruns,
		 was_ever_paused, was_ever_holding, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.CallID, rec.FilePath, rec.Format, rec.Direction,
		rec.PhoneNumber, rec.SampleRate, rec.FramesTotal, rec.FramesEncoded,
		rec.BufferOverruns, rec.WasEverPaused, rec.WasEverHolding,
		formatTime(rec.StartedAt), formatTime(rec.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting recording: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetBySessionID returns the recording for a capture session, or nil if the
// session was never indexed.
func (r *recordingRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Recording, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE session_id = ?`, sessionID)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning recording: %w", err)
	}
	return rec, nil
}

// List returns recordings matching the filter, newest first, along with the
// total count.
func (r *recordingRepo) List(ctx context.Context, filter RecordingListFilter) ([]models.Recording, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Search != "" {
		where += " AND phone_number LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recordings WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting recordings: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE ` + where +
		` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing recordings: %w", err)
	}
	defer rows.Close()

	var recs []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning recording row: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating recording rows: %w", err)
	}

	return recs, total, nil
}

// CountByDirection returns the number of indexed recordings per direction.
func (r *recordingRepo) CountByDirection(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT direction, COUNT(*) FROM recordings GROUP BY direction")
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

// DeleteExpired removes index rows whose recording started more than maxDays
// ago and returns the audio file paths they referenced so callers can remove
// the files from disk.
func (r *recordingRepo) DeleteExpired(ctx context.Context, maxDays int) ([]string, error) {
	cutoff := formatTime(r.now().AddDate(0, 0, -maxDays))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning expiry transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT file_path FROM recordings WHERE started_at < ?", cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying expired recordings: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning expired recording path: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired recording rows: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM recordings WHERE started_at < ?", cutoff); err != nil {
		return nil, fmt.Errorf("deleting expired recordings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing expiry: %w", err)
	}
	return paths, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(s rowScanner) (*models.Recording, error) {
	var rec models.Recording
	var started, ended string
	err := s.Scan(&rec.ID, &rec.SessionID, &rec.CallID, &rec.FilePath, &rec.Format,
		&rec.Direction, &rec.PhoneNumber, &rec.SampleRate, &rec.FramesTotal,
		&rec.FramesEncoded, &rec.BufferOverruns, &rec.WasEverPaused,
		&rec.WasEverHolding, &started, &ended)
	if err != nil {
		return nil, err
	}
	rec.StartedAt = parseTime(started)
	rec.EndedAt = parseTime(ended)
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
