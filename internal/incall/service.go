// Package incall coordinates the in-call features around the call registry:
// audio routing, automatic redial and call recording.
package incall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowpbx/callcore/internal/audio"
	"github.com/flowpbx/callcore/internal/call"
	"github.com/flowpbx/callcore/internal/database/models"
	"github.com/flowpbx/callcore/internal/platform"
	"github.com/flowpbx/callcore/internal/recording"
	"github.com/flowpbx/callcore/internal/redial"
	"github.com/google/uuid"
)

var (
	ErrNoCall            = errors.New("no call to record")
	ErrRecordingDisabled = errors.New("call recording is disabled")
)

// RecordingIndex stores finished recordings.
type RecordingIndex interface {
	Create(ctx context.Context, rec *models.Recording) error
}

// StatusNotifier forwards recording lifecycle events to the platform.
type StatusNotifier interface {
	NotifyRecording(ctx context.Context, st platform.RecordingStatus) error
}

// Config holds the recording behaviour of the coordinator.
type Config struct {
	RecordingEnabled bool
	AutoRecord       AutoRecordRule
	Location         recording.Location
	SampleRate       int
	KeepCallsSpeaker bool
}

// Deps are the collaborators a Service is wired to. Contacts, Index and
// Notifier are optional.
type Deps struct {
	Registry *call.Registry
	Audio    *audio.Controller
	Redial   *redial.Controller
	Opener   recording.DeviceOpener
	Contacts ContactDirectory
	Index    RecordingIndex
	Notifier StatusNotifier
}

// RecordingTotals are lifetime recording counters.
type RecordingTotals struct {
	Started  int64
	Finished int64
	Indexed  int64
	Failed   int64
}

// callTrack is what the service remembers about a call between
// notifications.
type callTrack struct {
	state     call.State
	evaluated bool // auto-record rule already applied
}

// Service reacts to registry notifications: it starts and stops redial
// sessions for outgoing calls, applies the auto-record rule when a call
// becomes active, pauses the recording while the recorded call is on hold,
// and stops it when that call ends. It is the recording engine's status
// sink, indexing finished recordings and forwarding status to the platform.
type Service struct {
	registry *call.Registry
	audio    *audio.Controller
	redial   *redial.Controller
	engine   *recording.Engine
	contacts ContactDirectory
	index    RecordingIndex
	notifier StatusNotifier
	logger   *slog.Logger

	mu       sync.Mutex
	cfg      Config
	tracks   map[string]*callTrack
	dialedID string // outgoing call the redial session follows

	started  atomic.Int64
	finished atomic.Int64
	indexed  atomic.Int64
	failed   atomic.Int64
}

// NewService creates the coordinator, builds its recording engine and
// subscribes it to the registry.
func NewService(cfg Config, deps Deps, logger *slog.Logger) *Service {
	s := &Service{
		registry: deps.Registry,
		audio:    deps.Audio,
		redial:   deps.Redial,
		contacts: deps.Contacts,
		index:    deps.Index,
		notifier: deps.Notifier,
		logger:   logger.With("subsystem", "incall"),
		cfg:      cfg,
		tracks:   make(map[string]*callTrack),
	}
	s.engine = recording.NewEngine(deps.Opener, s, logger)

	s.registry.Subscribe(s)
	s.registry.OnCallEnded(s.onCallEnded)
	return s
}

// SetAutoRecord changes the auto-record rule for calls that have not become
// active yet.
func (s *Service) SetAutoRecord(rule AutoRecordRule) {
	s.mu.Lock()
	s.cfg.AutoRecord = rule
	s.mu.Unlock()
}

// SetRecordingEnabled turns call recording on or off. Turning it off does not
// stop a running recording.
func (s *Service) SetRecordingEnabled(enabled bool) {
	s.mu.Lock()
	s.cfg.RecordingEnabled = enabled
	s.mu.Unlock()
}

// SetKeepCallsSpeaker changes the default speaker toggle mode.
func (s *Service) SetKeepCallsSpeaker(keep bool) {
	s.mu.Lock()
	s.cfg.KeepCallsSpeaker = keep
	s.mu.Unlock()
}

// Settings returns the current recording settings.
func (s *Service) Settings() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// OnPrimaryCallChanged implements call.Observer.
func (s *Service) OnPrimaryCallChanged(call.PhoneState) { s.sync() }

// OnStateChanged implements call.Observer.
func (s *Service) OnStateChanged(call.PhoneState) { s.sync() }

// sync diffs the registry's calls against what was seen last time and
// reacts to each transition.
func (s *Service) sync() {
	ctx := context.Background()
	for _, c := range s.registry.Calls() {
		if c.State.IsTerminal() {
			continue
		}

		s.mu.Lock()
		t, seen := s.tracks[c.ID]
		if !seen {
			t = &callTrack{state: c.State}
			s.tracks[c.ID] = t
		}
		prev := t.state
		t.state = c.State
		evaluate := c.State == call.StateActive && !t.evaluated
		if evaluate {
			t.evaluated = true
		}
		cfg := s.cfg
		s.mu.Unlock()

		if !seen && c.WasOutgoing() && c.Number != "" && c.State.IsNew() {
			s.mu.Lock()
			s.dialedID = c.ID
			s.mu.Unlock()
			s.redial.OnDialed(c.Number, c.Account)
		}

		if seen && prev == c.State {
			continue
		}

		switch c.State {
		case call.StateActive:
			if c.WasOutgoing() && (!seen || prev != call.StateHolding) && s.isDialed(c.ID) {
				s.redial.OnConnected()
			}
			if s.recording(c.ID) {
				s.setHolding(false)
			} else if evaluate && cfg.RecordingEnabled && shouldRecord(ctx, cfg.AutoRecord, s.contacts, c.Number) {
				if _, err := s.startFor(c, cfg); err != nil {
					s.logger.Warn("auto-record failed to start", "call_id", c.ID, "error", err)
				}
			}
		case call.StateHolding:
			if s.recording(c.ID) {
				s.setHolding(true)
			}
		}
	}
}

func (s *Service) onCallEnded(c call.Call) {
	s.mu.Lock()
	delete(s.tracks, c.ID)
	dialed := c.ID == s.dialedID
	if dialed {
		s.dialedID = ""
	}
	s.mu.Unlock()

	if s.recording(c.ID) {
		s.engine.Stop()
	}

	// Only the call the redial session follows may schedule a redial.
	if c.WasOutgoing() && dialed {
		s.redial.OnDisconnected(c.Cause)
	}
}

func (s *Service) isDialed(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return callID == s.dialedID
}

func (s *Service) recording(callID string) bool {
	id, ok := s.engine.Active()
	return ok && id == callID
}

func (s *Service) setHolding(holding bool) {
	if err := s.engine.SetHolding(holding); err != nil && !errors.Is(err, recording.ErrNotRecording) {
		s.logger.Warn("updating recording hold state", "error", err)
	}
}

// StartRecording records callID, or the primary call when callID is empty.
func (s *Service) StartRecording(ctx context.Context, callID string) (recording.Session, error) {
	var (
		c  call.Call
		ok bool
	)
	if callID == "" {
		c, ok = s.registry.PrimaryCall()
	} else {
		c, ok = s.registry.Call(callID)
	}
	if !ok || c.State.IsTerminal() {
		return recording.Session{}, ErrNoCall
	}

	cfg := s.Settings()
	if !cfg.RecordingEnabled {
		return recording.Session{}, ErrRecordingDisabled
	}
	return s.startFor(c, cfg)
}

func (s *Service) startFor(c call.Call, cfg Config) (recording.Session, error) {
	now := time.Now()
	path := cfg.Location.Path(recording.NameInfo{
		Time:        now,
		Direction:   c.Direction.String(),
		PhoneNumber: c.Number,
		CallerName:  c.CallerName,
		SIMSlot:     c.SIMSlot,
	})

	sess := recording.Session{
		ID:          uuid.New().String(),
		CallID:      c.ID,
		Direction:   c.Direction.String(),
		PhoneNumber: c.Number,
		Format:      cfg.Location.Format,
		SampleRate:  cfg.SampleRate,
		FilePath:    path,
		StartedAt:   now,
	}
	if err := s.engine.Start(sess); err != nil {
		return recording.Session{}, fmt.Errorf("starting recording for call %s: %w", c.ID, err)
	}
	// The call may have changed state while the device was opening.
	if cur, ok := s.registry.Call(c.ID); ok && cur.State == call.StateHolding {
		s.setHolding(true)
	}
	return sess, nil
}

// PauseRecording pauses the running recording.
func (s *Service) PauseRecording() error { return s.engine.Pause() }

// ResumeRecording resumes a recording paused by PauseRecording.
func (s *Service) ResumeRecording() error { return s.engine.Resume() }

// StopRecording stops the running recording and returns its metadata.
func (s *Service) StopRecording() (recording.Metadata, error) {
	m, ok := s.engine.Stop()
	if !ok {
		return recording.Metadata{}, recording.ErrNotRecording
	}
	return m, nil
}

// RecordingStats returns counters for the running recording.
func (s *Service) RecordingStats() (recording.Stats, bool) {
	return s.engine.Stats()
}

// RecordingTotals returns lifetime recording counters.
func (s *Service) RecordingTotals() RecordingTotals {
	return RecordingTotals{
		Started:  s.started.Load(),
		Finished: s.finished.Load(),
		Indexed:  s.indexed.Load(),
		Failed:   s.failed.Load(),
	}
}

// ToggleSpeaker flips the speaker for the active call. keepCalls overrides
// the configured keep-calls-on-speaker mode when non-nil.
func (s *Service) ToggleSpeaker(ctx context.Context, keepCalls *bool) (audio.Route, error) {
	keep := s.Settings().KeepCallsSpeaker
	if keepCalls != nil {
		keep = *keepCalls
	}
	return s.audio.ToggleSpeaker(ctx, keep)
}

// Shutdown stops any running recording so the file is finalized.
func (s *Service) Shutdown() {
	if m, ok := s.engine.Stop(); ok {
		s.logger.Info("recording stopped on shutdown", "file", m.FilePath)
	}
}

// RecordingStarted implements recording.StatusSink.
func (s *Service) RecordingStarted(sess recording.Session) {
	s.started.Add(1)
	s.notify(platform.RecordingStatus{
		Event:     "started",
		SessionID: sess.ID,
		CallID:    sess.CallID,
		FilePath:  sess.FilePath,
	})
}

// RecordingPauseChanged implements recording.StatusSink.
func (s *Service) RecordingPauseChanged(sess recording.Session, paused bool) {
	event := "resumed"
	if paused {
		event = "paused"
	}
	s.notify(platform.RecordingStatus{
		Event:     event,
		SessionID: sess.ID,
		CallID:    sess.CallID,
		FilePath:  sess.FilePath,
	})
}

// RecordingFinished implements recording.StatusSink. It runs on the capture
// goroutine.
func (s *Service) RecordingFinished(m recording.Metadata) {
	s.finished.Add(1)

	if s.index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.index.Create(ctx, &models.Recording{
			SessionID:      m.SessionID,
			CallID:         m.CallID,
			FilePath:       m.FilePath,
			Format:         string(m.Format),
			Direction:      m.Direction,
			PhoneNumber:    m.PhoneNumber,
			SampleRate:     m.SampleRate,
			FramesTotal:    m.FramesTotal,
			FramesEncoded:  m.FramesEncoded,
			BufferOverruns: m.BufferOverruns,
			WasEverPaused:  m.WasEverPaused,
			WasEverHolding: m.WasEverHolding,
			StartedAt:      m.Timestamp,
			EndedAt:        m.EndedAt,
		})
		cancel()
		if err != nil {
			s.failed.Add(1)
			s.logger.Error("indexing recording", "file", m.FilePath, "error", err)
		} else {
			s.indexed.Add(1)
		}
	}

	meta, err := json.Marshal(m)
	if err != nil {
		s.logger.Error("encoding recording metadata", "error", err)
	}
	s.notify(platform.RecordingStatus{
		Event:     "finished",
		SessionID: m.SessionID,
		CallID:    m.CallID,
		FilePath:  m.FilePath,
		Metadata:  meta,
	})
}

func (s *Service) notify(st platform.RecordingStatus) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.notifier.NotifyRecording(ctx, st); err != nil {
		s.logger.Warn("forwarding recording status", "event", st.Event, "error", err)
	}
}
