package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SaveLocation selects where recordings are stored.
type SaveLocation string

const (
	// SaveDefault stores recordings flat under $dataDir/recordings.
	SaveDefault SaveLocation = "default"
	// SaveDated stores recordings by date: $dataDir/recordings/YYYY/MM/DD.
	SaveDated SaveLocation = "dated"
	// SaveCustom stores recordings in a user-chosen directory.
	SaveCustom SaveLocation = "custom"
)

// ParseSaveLocation validates a save location name.
func ParseSaveLocation(s string) (SaveLocation, error) {
	switch SaveLocation(s) {
	case SaveDefault, SaveDated, SaveCustom:
		return SaveLocation(s), nil
	default:
		return "", fmt.Errorf("unknown save location %q", s)
	}
}

// Location resolves output paths for new recordings from the naming and
// storage settings.
type Location struct {
	DataDir    string
	Mode       SaveLocation
	CustomPath string
	Template   string
	Format     Format
}

// Dir returns the directory a recording started at t is stored in.
func (l Location) Dir(t time.Time) string {
	switch l.Mode {
	case SaveCustom:
		if l.CustomPath != "" {
			return l.CustomPath
		}
	case SaveDated:
		return filepath.Join(
			l.DataDir,
			"recordings",
			t.Format("2006"),
			t.Format("01"),
			t.Format("02"),
		)
	}
	return filepath.Join(l.DataDir, "recordings")
}

// Path returns a fresh, unused output path for a recording.
func (l Location) Path(info NameInfo) string {
	name := BuildName(l.Template, info)
	format := l.Format
	if format == "" {
		format = FormatWAV
	}
	return UniquePath(l.Dir(info.Time), name, format.Extension(), fileExists, info.Time)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
