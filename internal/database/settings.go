package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowpbx/callcore/internal/database/models"
)

// settingsRepo implements SettingsRepository with an in-memory cache.
type settingsRepo struct {
	db    *DB
	mu    sync.RWMutex
	cache map[string]string
}

// NewSettingsRepository creates a SettingsRepository backed by db and loads
// every stored setting into memory.
func NewSettingsRepository(ctx context.Context, db *DB) (SettingsRepository, error) {
	repo := &settingsRepo{
		db:    db,
		cache: make(map[string]string),
	}
	if err := repo.loadAll(ctx); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return repo, nil
}

// Get returns the value for key and whether it has ever been set.
func (r *settingsRepo) Get(_ context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.cache[key]
	return v, ok, nil
}

// Set inserts or updates a key-value pair in both the database and cache.
func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}

	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
	return nil
}

// GetAll returns every stored setting ordered by key.
func (r *settingsRepo) GetAll(ctx context.Context) ([]models.Setting, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var out []models.Setting
	for rows.Next() {
		var s models.Setting
		var updated string
		if err := rows.Scan(&s.Key, &s.Value, &updated); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}
		s.UpdatedAt = parseTime(updated)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *settingsRepo) loadAll(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scanning setting row: %w", err)
		}
		r.cache[key] = value
	}
	return rows.Err()
}
