package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Metadata describes a finished recording. It is written next to the audio
// file as a JSON sidecar and handed to the status sink.
type Metadata struct {
	SessionID string `json:"-"`
	CallID    string `json:"-"`
	FilePath  string `json:"-"`

	Timestamp           time.Time `json:"timestamp"`
	Direction           string    `json:"direction"`
	PhoneNumber         string    `json:"phone_number"`
	Format              Format    `json:"format"`
	SampleRate          int       `json:"sample_rate"`
	FramesTotal         int64     `json:"frames_total"`
	FramesEncoded       int64     `json:"frames_encoded"`
	BufferOverruns      int64     `json:"buffer_overruns"`
	WasEverPaused       bool      `json:"was_ever_paused"`
	WasEverHolding      bool      `json:"was_ever_holding"`
	DurationSecsTotal   float64   `json:"duration_secs_total"`
	DurationSecsEncoded float64   `json:"duration_secs_encoded"`

	EndedAt time.Time `json:"-"`
}

// SidecarPath returns the metadata path for an audio file: the audio path
// with its extension replaced by .json.
func SidecarPath(audioPath string) string {
	if i := strings.LastIndexByte(audioPath, '.'); i > strings.LastIndexByte(audioPath, os.PathSeparator) {
		return audioPath[:i] + ".json"
	}
	return audioPath + ".json"
}

// writeSidecar writes m as indented JSON next to the audio file.
func writeSidecar(m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recording metadata: %w", err)
	}
	data = append(data, '\n')

	path := SidecarPath(m.FilePath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing recording metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming recording metadata: %w", err)
	}
	return nil
}

// durationSecs converts a frame count to seconds at sampleRate.
func durationSecs(frames int64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(frames) / float64(sampleRate)
}
