package recording

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSampleRate is used when a session does not set one.
	DefaultSampleRate = 48000

	// defaultFrameDuration is the amount of audio requested per device read.
	defaultFrameDuration = 20 * time.Millisecond
)

var (
	ErrAlreadyRecording  = errors.New("recording already in progress")
	ErrNotRecording      = errors.New("no recording in progress")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrStartAborted      = errors.New("recording stopped while opening capture device")
)

// Session describes what to record. FilePath must be set; the remaining
// zero fields are filled with defaults by Start.
type Session struct {
	ID          string
	CallID      string
	Direction   string
	PhoneNumber string
	Format      Format
	SampleRate  int
	FilePath    string
	StartedAt   time.Time
}

// StatusSink receives recording lifecycle notifications. RecordingFinished
// is called from the capture goroutine, the others from the caller of the
// corresponding Engine method.
type StatusSink interface {
	RecordingStarted(s Session)
	RecordingPauseChanged(s Session, paused bool)
	RecordingFinished(m Metadata)
}

// Stats is a live snapshot of the running recording.
type Stats struct {
	SessionID      string `json:"session_id"`
	CallID         string `json:"call_id"`
	FilePath       string `json:"file_path"`
	Paused         bool   `json:"paused"`
	Holding        bool   `json:"holding"`
	FramesTotal    int64  `json:"frames_total"`
	FramesEncoded  int64  `json:"frames_encoded"`
	BufferOverruns int64  `json:"buffer_overruns"`
}

// Engine records one call at a time. Audio is read on a dedicated
// goroutine; Start, Pause, Resume, SetHolding and Stop may be called from
// any goroutine.
//
// Lifecycle: Stopped → Recording ⇄ Paused → Stopped. Each recording is
// finalized exactly once, whether it ends by Stop, by a device error, or by
// an encoder failure.
type Engine struct {
	opener   DeviceOpener
	sink     StatusSink
	logger   *slog.Logger
	frameDur time.Duration

	mu       sync.Mutex
	cur      *capture
	starting *Session // set while Start waits on the device
	aborted  bool     // Stop was called during starting
}

// NewEngine creates a recording engine that opens capture devices through
// opener and reports to sink. sink may be nil.
func NewEngine(opener DeviceOpener, sink StatusSink, logger *slog.Logger) *Engine {
	return &Engine{
		opener:   opener,
		sink:     sink,
		logger:   logger.With("subsystem", "call-recorder"),
		frameDur: defaultFrameDuration,
	}
}

// Start opens the capture device and output file and begins recording.
// It fails if a recording is already running, the device cannot be opened
// at the session's sample rate, or the output file cannot be created.
func (e *Engine) Start(s Session) error {
	if s.FilePath == "" {
		return errors.New("recording session has no file path")
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.SampleRate == 0 {
		s.SampleRate = DefaultSampleRate
	}
	if s.Format == "" {
		s.Format = FormatWAV
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	e.mu.Lock()
	if e.starting != nil || (e.cur != nil && !e.cur.finished()) {
		e.mu.Unlock()
		return ErrAlreadyRecording
	}
	e.starting = &s
	e.aborted = false
	e.mu.Unlock()

	// Opening a FIFO waits for its writer; the engine stays usable meanwhile.
	dev, err := e.opener.Open(s.SampleRate)

	e.mu.Lock()
	aborted := e.aborted
	e.starting = nil
	e.aborted = false
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if aborted {
		e.mu.Unlock()
		dev.Close()
		return ErrStartAborted
	}

	enc, err := NewEncoder(s.Format, s.FilePath, s.SampleRate)
	if err != nil {
		e.mu.Unlock()
		dev.Close()
		return err
	}

	c := &capture{
		session: s,
		dev:     dev,
		enc:     enc,
		sink:    e.sink,
		logger:  e.logger.With("session_id", s.ID, "call_id", s.CallID, "file", s.FilePath),
		done:    make(chan struct{}),
	}
	frameSize := s.SampleRate * int(e.frameDur/time.Millisecond) / 1000
	if frameSize < 1 {
		frameSize = 1
	}
	e.cur = c
	e.mu.Unlock()

	go c.run(frameSize)

	c.logger.Info("call recording started",
		"format", string(s.Format),
		"sample_rate", s.SampleRate,
		"frame_size", frameSize,
	)
	if e.sink != nil {
		e.sink.RecordingStarted(s)
	}
	return nil
}

// Stop ends the current recording, waits for it to be finalized and returns
// its metadata. It reports false if nothing was recording. Calling Stop
// again is a no-op. A Start still waiting on the device is abandoned and
// returns ErrStartAborted.
func (e *Engine) Stop() (Metadata, bool) {
	e.mu.Lock()
	c := e.cur
	e.cur = nil
	if c == nil && e.starting != nil {
		e.aborted = true
	}
	e.mu.Unlock()

	if c == nil {
		return Metadata{}, false
	}
	return c.stop(), true
}

// Pause stops encoding while capture continues. Frames read while paused
// count toward frames_total only.
func (e *Engine) Pause() error {
	return e.withCurrent(func(c *capture) { c.setPaused(&c.userPaused, true) })
}

// Resume undoes Pause. Encoding restarts only if the call is not on hold.
func (e *Engine) Resume() error {
	return e.withCurrent(func(c *capture) { c.setPaused(&c.userPaused, false) })
}

// SetHolding gates encoding on the call's hold state, independently of
// Pause and Resume.
func (e *Engine) SetHolding(holding bool) error {
	return e.withCurrent(func(c *capture) {
		if holding {
			c.everHolding.Store(true)
		}
		c.setPaused(&c.holdPaused, holding)
	})
}

func (e *Engine) withCurrent(fn func(c *capture)) error {
	e.mu.Lock()
	c := e.cur
	e.mu.Unlock()
	if c == nil || c.finished() {
		return ErrNotRecording
	}
	fn(c)
	return nil
}

// Active reports whether a recording is running or starting, and for which
// call.
func (e *Engine) Active() (callID string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.starting != nil {
		return e.starting.CallID, true
	}
	if e.cur == nil || e.cur.finished() {
		return "", false
	}
	return e.cur.session.CallID, true
}

// Stats returns counters for the current recording.
func (e *Engine) Stats() (Stats, bool) {
	e.mu.Lock()
	c := e.cur
	e.mu.Unlock()
	if c == nil {
		return Stats{}, false
	}
	return c.stats(), true
}

// capture is one running recording.
type capture struct {
	session Session
	dev     CaptureDevice
	enc     Encoder
	sink    StatusSink
	logger  *slog.Logger

	// Written by control methods, read by the capture goroutine.
	userPaused  atomic.Bool
	holdPaused  atomic.Bool
	everPaused  atomic.Bool
	everHolding atomic.Bool
	stopping    atomic.Bool

	framesTotal   atomic.Int64
	framesEncoded atomic.Int64
	overruns      atomic.Int64

	pauseMu      sync.Mutex
	closeDevOnce sync.Once
	finalizeOnce sync.Once
	done         chan struct{}
	meta         Metadata // set by finalize before done is closed
}

func (c *capture) paused() bool {
	return c.userPaused.Load() || c.holdPaused.Load()
}

// setPaused updates one of the two pause sources and notifies the sink if
// the effective state flipped.
func (c *capture) setPaused(flag *atomic.Bool, v bool) {
	c.pauseMu.Lock()
	before := c.paused()
	flag.Store(v)
	after := c.paused()
	if after {
		c.everPaused.Store(true)
	}
	c.pauseMu.Unlock()

	if before == after {
		return
	}
	if after {
		c.logger.Info("call recording paused")
	} else {
		c.logger.Info("call recording resumed")
	}
	if c.sink != nil {
		c.sink.RecordingPauseChanged(c.session, after)
	}
}

func (c *capture) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// run is the capture goroutine. It reads frames until stopped or until the
// device fails, then finalizes the recording.
func (c *capture) run(frameSize int) {
	defer close(c.done)
	defer c.finalize()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("capture loop panicked", "panic", fmt.Sprint(r))
		}
	}()

	buf := make([]int16, frameSize)
	for !c.stopping.Load() {
		n, err := c.dev.Read(buf)
		if n > 0 {
			c.framesTotal.Add(int64(n))
			if !c.paused() {
				if encErr := c.enc.Encode(buf[:n]); encErr != nil {
					if errors.Is(encErr, ErrFileFull) {
						c.logger.Warn("recording reached maximum file size, ending recording")
					} else {
						c.logger.Error("encoding failed, ending recording", "error", encErr)
					}
					return
				}
				c.framesEncoded.Add(int64(n))
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, ErrOverrun) {
			c.overruns.Add(1)
			continue
		}
		switch {
		case c.stopping.Load():
		case errors.Is(err, io.EOF):
			c.logger.Info("capture source ended")
		default:
			c.logger.Error("capture read failed, ending recording", "error", err)
		}
		return
	}
}

func (c *capture) closeDevice() {
	c.closeDevOnce.Do(func() {
		if err := c.dev.Close(); err != nil {
			c.logger.Warn("closing capture device", "error", err)
		}
	})
}

// stop signals the capture goroutine, unblocks its read and waits for
// finalize to complete.
func (c *capture) stop() Metadata {
	c.stopping.Store(true)
	c.closeDevice()
	<-c.done
	return c.meta
}

// finalize releases the device, completes the output file and writes the
// sidecar. Errors are logged; a sidecar failure leaves the audio intact.
func (c *capture) finalize() {
	c.finalizeOnce.Do(func() {
		c.closeDevice()

		if err := c.enc.Finalize(); err != nil {
			c.logger.Error("finalizing recording", "error", err)
		}
		if err := c.enc.Close(); err != nil {
			c.logger.Error("closing recording file", "error", err)
		}

		c.meta = c.metadata()
		if err := writeSidecar(c.meta); err != nil {
			c.logger.Error("writing recording metadata", "error", err)
		}

		c.logger.Info("call recording stopped",
			"frames_total", c.meta.FramesTotal,
			"frames_encoded", c.meta.FramesEncoded,
			"buffer_overruns", c.meta.BufferOverruns,
			"duration_secs", c.meta.DurationSecsEncoded,
		)

		if c.sink != nil {
			c.sink.RecordingFinished(c.meta)
		}
	})
}

func (c *capture) metadata() Metadata {
	s := c.session
	total := c.framesTotal.Load()
	encoded := c.framesEncoded.Load()
	return Metadata{
		SessionID:           s.ID,
		CallID:              s.CallID,
		FilePath:            s.FilePath,
		Timestamp:           s.StartedAt,
		Direction:           s.Direction,
		PhoneNumber:         s.PhoneNumber,
		Format:              s.Format,
		SampleRate:          s.SampleRate,
		FramesTotal:         total,
		FramesEncoded:       encoded,
		BufferOverruns:      c.overruns.Load(),
		WasEverPaused:       c.everPaused.Load(),
		WasEverHolding:      c.everHolding.Load(),
		DurationSecsTotal:   durationSecs(total, s.SampleRate),
		DurationSecsEncoded: durationSecs(encoded, s.SampleRate),
		EndedAt:             time.Now(),
	}
}

func (c *capture) stats() Stats {
	return Stats{
		SessionID:      c.session.ID,
		CallID:         c.session.CallID,
		FilePath:       c.session.FilePath,
		Paused:         c.paused(),
		Holding:        c.holdPaused.Load(),
		FramesTotal:    c.framesTotal.Load(),
		FramesEncoded:  c.framesEncoded.Load(),
		BufferOverruns: c.overruns.Load(),
	}
}
