package recording

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// ExpiredStore removes index entries for recordings older than maxDays and
// returns the audio file paths they referenced.
type ExpiredStore interface {
	DeleteExpired(ctx context.Context, maxDays int) ([]string, error)
}

// StartCleanupTicker runs a background goroutine that periodically removes
// recordings older than maxDays: the index rows are deleted, then the audio
// files and their metadata sidecars are removed from disk. If maxDays is 0
// no cleanup is performed. The goroutine stops when ctx is cancelled.
func StartCleanupTicker(ctx context.Context, store ExpiredStore, maxDays int, interval time.Duration) {
	if maxDays <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				CleanupExpired(ctx, store, maxDays)
			}
		}
	}()
}

// CleanupExpired performs one retention pass and returns the number of
// recordings removed from the index.
func CleanupExpired(ctx context.Context, store ExpiredStore, maxDays int) int {
	paths, err := store.DeleteExpired(ctx, maxDays)
	if err != nil {
		slog.Error("recording retention cleanup failed", "error", err)
		return 0
	}
	if len(paths) == 0 {
		return 0
	}

	slog.Info("recording retention cleanup", "deleted", len(paths), "max_days", maxDays)

	for _, p := range paths {
		for _, f := range []string{p, SidecarPath(p)} {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to remove recording file", "path", f, "error", err)
			}
		}
	}
	return len(paths)
}
