package database

import (
	"context"

	"github.com/flowpbx/callcore/internal/database/models"
)

// RecordingListFilter specifies filtering and pagination for recording list
// queries.
type RecordingListFilter struct {
	Limit     int
	Offset    int
	Search    string // matches phone_number
	Direction string // "incoming", "outgoing", or "" for all
}

// RecordingRepository manages the recording index.
type RecordingRepository interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.Recording, error)
	List(ctx context.Context, filter RecordingListFilter) ([]models.Recording, int, error)
	CountByDirection(ctx context.Context) (map[string]int64, error)
	DeleteExpired(ctx context.Context, maxDays int) ([]string, error)
}

// SettingsRepository persists runtime toggles so they survive restarts.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.Setting, error)
}
