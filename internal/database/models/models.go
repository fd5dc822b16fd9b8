package models

import "time"

// Recording is an index entry for a finished call recording.
type Recording struct {
	ID             int64
	SessionID      string
	CallID         string
	FilePath       string
	Format         string
	Direction      string // "incoming" | "outgoing"
	PhoneNumber    string
	SampleRate     int
	FramesTotal    int64
	FramesEncoded  int64
	BufferOverruns int64
	WasEverPaused  bool
	WasEverHolding bool
	StartedAt      time.Time
	EndedAt        time.Time
}

// Setting is a persisted runtime toggle changed through the API.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
