package incall

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flowpbx/callcore/internal/audio"
	"github.com/flowpbx/callcore/internal/call"
	"github.com/flowpbx/callcore/internal/database/models"
	"github.com/flowpbx/callcore/internal/platform"
	"github.com/flowpbx/callcore/internal/recording"
	"github.com/flowpbx/callcore/internal/redial"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// streamDevice returns silent frames until closed.
type streamDevice struct {
	once   sync.Once
	closed chan struct{}
}

func (d *streamDevice) Read(buf []int16) (int, error) {
	select {
	case <-d.closed:
		return 0, io.EOF
	case <-time.After(time.Millisecond):
		return len(buf), nil
	}
}

func (d *streamDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func streamOpener() recording.DeviceOpener {
	return recording.DeviceOpenerFunc(func(int) (recording.CaptureDevice, error) {
		return &streamDevice{closed: make(chan struct{})}, nil
	})
}

type fakeIndex struct {
	mu   sync.Mutex
	recs []models.Recording
}

func (f *fakeIndex) Create(_ context.Context, rec *models.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, *rec)
	return nil
}

func (f *fakeIndex) all() []models.Recording {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Recording(nil), f.recs...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) NotifyRecording(_ context.Context, st platform.RecordingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, st.Event)
	return nil
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeDialer struct {
	mu    sync.Mutex
	dials []string
}

func (f *fakeDialer) Dial(_ context.Context, number, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, number)
	return nil
}

func (f *fakeDialer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dials)
}

type fakeRouteSink struct{}

func (fakeRouteSink) SetAudioRoute(context.Context, int) error { return nil }

// manualTimers captures scheduled callbacks so tests can fire them.
type manualTimers struct {
	mu  sync.Mutex
	fns []func()
}

type manualTimer struct{}

func (manualTimer) Stop() bool { return true }

func (m *manualTimers) afterFunc(_ time.Duration, fn func()) redial.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = append(m.fns, fn)
	return manualTimer{}
}

func (m *manualTimers) fireLast() {
	m.mu.Lock()
	fn := m.fns[len(m.fns)-1]
	m.mu.Unlock()
	fn()
}

type harness struct {
	registry *call.Registry
	redial   *redial.Controller
	dialer   *fakeDialer
	timers   *manualTimers
	index    *fakeIndex
	notifier *fakeNotifier
	svc      *Service
	dir      string
}

func newHarness(t *testing.T, rule AutoRecordRule, contacts ContactDirectory) *harness {
	t.Helper()
	logger := testLogger()
	h := &harness{
		registry: call.NewRegistry(logger),
		dialer:   &fakeDialer{},
		timers:   &manualTimers{},
		index:    &fakeIndex{},
		notifier: &fakeNotifier{},
		dir:      t.TempDir(),
	}
	h.redial = redial.New(redial.Config{Enabled: true, MaxRetries: 3, Delay: time.Second}, h.dialer, logger)
	h.redial.SetAfterFunc(h.timers.afterFunc)

	h.svc = NewService(Config{
		RecordingEnabled: true,
		AutoRecord:       rule,
		Location:         recording.Location{Mode: recording.SaveCustom, CustomPath: h.dir},
		SampleRate:       8000,
	}, Deps{
		Registry: h.registry,
		Audio:    audio.NewController(h.registry, fakeRouteSink{}, logger),
		Redial:   h.redial,
		Opener:   streamOpener(),
		Contacts: contacts,
		Index:    h.index,
		Notifier: h.notifier,
	}, logger)
	t.Cleanup(h.svc.Shutdown)
	return h
}

func (h *harness) setState(t *testing.T, id string, st call.State) {
	t.Helper()
	if err := h.registry.OnEvent(id, call.Event{Kind: call.EventStateChanged, State: st}); err != nil {
		t.Fatalf("OnEvent(%s, %s): %v", id, st, err)
	}
}

func (h *harness) disconnect(t *testing.T, id string, cause call.DisconnectCause) {
	t.Helper()
	if err := h.registry.OnEvent(id, call.Event{Kind: call.EventDisconnected, Cause: cause}); err != nil {
		t.Fatalf("disconnect %s: %v", id, err)
	}
}

func TestServiceRecordsCallThroughHold(t *testing.T) {
	h := newHarness(t, AutoRecordAll, nil)

	h.registry.AddCall(call.Call{ID: "c1", Direction: call.DirectionIncoming, State: call.StateRinging, Number: "+15550100"})
	if _, ok := h.svc.RecordingStats(); ok {
		t.Fatal("recording started before the call was answered")
	}

	h.setState(t, "c1", call.StateActive)
	stats, ok := h.svc.RecordingStats()
	if !ok || stats.CallID != "c1" {
		t.Fatalf("stats = %+v, %v; want recording of c1", stats, ok)
	}

	h.setState(t, "c1", call.StateHolding)
	if stats, _ := h.svc.RecordingStats(); !stats.Holding || !stats.Paused {
		t.Errorf("on hold: stats = %+v", stats)
	}
	h.setState(t, "c1", call.StateActive)
	if stats, _ := h.svc.RecordingStats(); stats.Holding || stats.Paused {
		t.Errorf("after unhold: stats = %+v", stats)
	}

	h.disconnect(t, "c1", call.CauseRemote)
	if _, ok := h.svc.RecordingStats(); ok {
		t.Error("recording still running after call ended")
	}

	recs := h.index.all()
	if len(recs) != 1 {
		t.Fatalf("indexed %d recordings, want 1", len(recs))
	}
	rec := recs[0]
	if rec.CallID != "c1" || rec.Direction != "incoming" || rec.PhoneNumber != "+15550100" {
		t.Errorf("indexed %+v", rec)
	}
	if !rec.WasEverHolding || !rec.WasEverPaused {
		t.Errorf("hold flags = paused %v holding %v, want both true", rec.WasEverPaused, rec.WasEverHolding)
	}
	if filepath.Dir(rec.FilePath) != h.dir {
		t.Errorf("file %s not in %s", rec.FilePath, h.dir)
	}
	for _, p := range []string{rec.FilePath, recording.SidecarPath(rec.FilePath)} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("stat %s: %v", p, err)
		}
	}

	want := []string{"started", "paused", "resumed", "finished"}
	got := h.notifier.all()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	totals := h.svc.RecordingTotals()
	if totals.Started != 1 || totals.Finished != 1 || totals.Indexed != 1 || totals.Failed != 0 {
		t.Errorf("totals = %+v", totals)
	}
}

func TestServiceAutoRecordRespectsDirectory(t *testing.T) {
	contacts := NewNumberSet("+1 555 0100")

	tests := []struct {
		rule   AutoRecordRule
		number string
		want   bool
	}{
		{AutoRecordKnown, "15550100", true},
		{AutoRecordKnown, "15550199", false},
		{AutoRecordUnknown, "15550100", false},
		{AutoRecordUnknown, "15550199", true},
		{AutoRecordNone, "15550100", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.rule)+"/"+tt.number, func(t *testing.T) {
			h := newHarness(t, tt.rule, contacts)
			h.registry.AddCall(call.Call{ID: "c1", State: call.StateRinging, Number: tt.number})
			h.setState(t, "c1", call.StateActive)

			_, recording := h.svc.RecordingStats()
			if recording != tt.want {
				t.Errorf("recording = %v, want %v", recording, tt.want)
			}
		})
	}
}

func TestServiceAutoRecordEvaluatedOnce(t *testing.T) {
	h := newHarness(t, AutoRecordAll, nil)
	h.registry.AddCall(call.Call{ID: "c1", State: call.StateActive, Number: "100"})

	if _, err := h.svc.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	// Returning from hold must not restart a recording the user stopped.
	h.setState(t, "c1", call.StateHolding)
	h.setState(t, "c1", call.StateActive)
	if _, ok := h.svc.RecordingStats(); ok {
		t.Error("auto-record restarted after user stop")
	}
}

func TestServiceRedialsBusyOutgoingCall(t *testing.T) {
	h := newHarness(t, AutoRecordNone, nil)

	h.registry.AddCall(call.Call{ID: "o1", Direction: call.DirectionOutgoing, State: call.StateDialing, Number: "200"})
	if st := h.redial.Status(); !st.Active || st.Number != "200" {
		t.Fatalf("after dial: %+v", st)
	}

	h.disconnect(t, "o1", call.CauseBusy)
	h.registry.RemoveCall("o1")
	if st := h.redial.Status(); !st.Pending || st.RetryCount != 1 {
		t.Fatalf("after busy: %+v", st)
	}

	h.timers.fireLast()
	if h.dialer.count() != 1 {
		t.Fatalf("dials = %d, want 1", h.dialer.count())
	}

	// The platform reports the redialed call.
	h.registry.AddCall(call.Call{ID: "o2", Direction: call.DirectionOutgoing, State: call.StateDialing, Number: "200"})
	if st := h.redial.Status(); st.RetryCount != 1 {
		t.Errorf("redialed call reset retry count: %+v", st)
	}

	h.setState(t, "o2", call.StateActive)
	if st := h.redial.Status(); st.Active || st.RetryCount != 0 || st.Pending {
		t.Errorf("after connect: %+v", st)
	}

	h.disconnect(t, "o2", call.CauseNormal)
	if st := h.redial.Status(); st.Pending {
		t.Errorf("normal hangup scheduled a redial: %+v", st)
	}
}

func TestServiceRedialFollowsLatestOutgoingCall(t *testing.T) {
	h := newHarness(t, AutoRecordNone, nil)

	h.registry.AddCall(call.Call{ID: "a", Direction: call.DirectionOutgoing, State: call.StateDialing, Number: "100"})
	h.setState(t, "a", call.StateActive)
	h.setState(t, "a", call.StateHolding)

	h.registry.AddCall(call.Call{ID: "b", Direction: call.DirectionOutgoing, State: call.StateDialing, Number: "200"})
	if st := h.redial.Status(); !st.Active || st.Number != "200" {
		t.Fatalf("after second dial: %+v", st)
	}

	// The held call failing must not redial the number still being dialed.
	h.disconnect(t, "a", call.CauseError)
	if st := h.redial.Status(); st.Pending || st.RetryCount != 0 || !st.Active {
		t.Fatalf("unrelated call end touched redial: %+v", st)
	}

	h.disconnect(t, "b", call.CauseBusy)
	if st := h.redial.Status(); !st.Pending || st.RetryCount != 1 || st.Number != "200" {
		t.Errorf("after busy on b: %+v", st)
	}
	if h.dialer.count() != 0 {
		t.Errorf("dials = %d before the timer fired", h.dialer.count())
	}
}

func TestServiceIncomingCallNeverRedials(t *testing.T) {
	h := newHarness(t, AutoRecordNone, nil)
	h.registry.AddCall(call.Call{ID: "i1", Direction: call.DirectionIncoming, State: call.StateRinging, Number: "300"})
	h.disconnect(t, "i1", call.CauseBusy)

	if st := h.redial.Status(); st.Active || st.Pending {
		t.Errorf("incoming call touched redial: %+v", st)
	}
}

func TestStartRecordingErrors(t *testing.T) {
	h := newHarness(t, AutoRecordNone, nil)

	if _, err := h.svc.StartRecording(context.Background(), ""); !errors.Is(err, ErrNoCall) {
		t.Errorf("no call: err = %v, want ErrNoCall", err)
	}

	h.registry.AddCall(call.Call{ID: "c1", State: call.StateHolding, Number: "100"})
	h.svc.SetRecordingEnabled(false)
	if _, err := h.svc.StartRecording(context.Background(), "c1"); !errors.Is(err, ErrRecordingDisabled) {
		t.Errorf("disabled: err = %v, want ErrRecordingDisabled", err)
	}

	h.svc.SetRecordingEnabled(true)
	sess, err := h.svc.StartRecording(context.Background(), "c1")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if sess.ID == "" || sess.CallID != "c1" {
		t.Errorf("session = %+v", sess)
	}
	if stats, _ := h.svc.RecordingStats(); !stats.Holding {
		t.Error("recording of a held call did not start paused")
	}

	if _, err := h.svc.StartRecording(context.Background(), "c1"); !errors.Is(err, recording.ErrAlreadyRecording) {
		t.Errorf("second start: err = %v, want ErrAlreadyRecording", err)
	}

	if err := h.svc.PauseRecording(); err != nil {
		t.Errorf("PauseRecording: %v", err)
	}
	if err := h.svc.ResumeRecording(); err != nil {
		t.Errorf("ResumeRecording: %v", err)
	}
	if _, err := h.svc.StopRecording(); err != nil {
		t.Errorf("StopRecording: %v", err)
	}
	if _, err := h.svc.StopRecording(); !errors.Is(err, recording.ErrNotRecording) {
		t.Errorf("second stop: err = %v, want ErrNotRecording", err)
	}
}
