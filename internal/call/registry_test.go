package call

import (
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"testing"

	"github.com/flowpbx/callcore/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingObserver counts notifications by kind.
type recordingObserver struct {
	primary []PhoneState
	changed []PhoneState
}

func (o *recordingObserver) OnPrimaryCallChanged(s PhoneState) { o.primary = append(o.primary, s) }
func (o *recordingObserver) OnStateChanged(s PhoneState)       { o.changed = append(o.changed, s) }
func (o *recordingObserver) total() int                        { return len(o.primary) + len(o.changed) }

func TestRegistryAddCallIdempotent(t *testing.T) {
	r := NewRegistry(testLogger())
	obs := &recordingObserver{}
	r.Subscribe(obs)

	if !r.AddCall(mk("a", StateDialing)) {
		t.Fatal("first AddCall returned false")
	}
	if r.AddCall(mk("a", StateActive)) {
		t.Error("duplicate AddCall returned true")
	}

	if got := r.GetActiveCallCount(); got != 1 {
		t.Errorf("call count = %d, want 1", got)
	}
	c, _ := r.Call("a")
	if c.State != StateDialing {
		t.Errorf("duplicate insert overwrote state: %s", c.State)
	}
	if obs.total() != 1 {
		t.Errorf("notifications = %d, want 1", obs.total())
	}
}

func TestRegistryExactlyOneNotificationPerMutation(t *testing.T) {
	r := NewRegistry(testLogger())
	obs := &recordingObserver{}
	r.Subscribe(obs)

	r.AddCall(mk("a", StateActive)) // primary "" -> a
	if len(obs.primary) != 1 || len(obs.changed) != 0 {
		t.Fatalf("after add a: primary=%d changed=%d", len(obs.primary), len(obs.changed))
	}

	if err := r.OnEvent("a", Event{Kind: EventDetailsChanged, Number: "555"}); err != nil {
		t.Fatal(err)
	}
	if len(obs.primary) != 1 || len(obs.changed) != 1 {
		t.Fatalf("after details: primary=%d changed=%d", len(obs.primary), len(obs.changed))
	}

	r.AddCall(mk("b", StateDialing)) // b becomes foreground
	if len(obs.primary) != 2 || len(obs.changed) != 1 {
		t.Fatalf("after add b: primary=%d changed=%d", len(obs.primary), len(obs.changed))
	}
	if obs.primary[1].PrimaryID() != "b" {
		t.Errorf("primary = %q, want b", obs.primary[1].PrimaryID())
	}

	if err := r.OnEvent("a", Event{Kind: EventStateChanged, State: StateHolding}); err != nil {
		t.Fatal(err)
	}
	// b is still foreground (new vs holding).
	if len(obs.primary) != 2 || len(obs.changed) != 2 {
		t.Fatalf("after hold a: primary=%d changed=%d", len(obs.primary), len(obs.changed))
	}
	if obs.total() != 4 {
		t.Errorf("notifications = %d, want 4", obs.total())
	}
}

func TestRegistryRemovePurgesTerminalCalls(t *testing.T) {
	r := NewRegistry(testLogger())
	r.AddCall(mk("a", StateActive))
	r.AddCall(mk("b", StateHolding))
	r.AddCall(mk("c", StateDialing))

	if err := r.OnEvent("b", Event{Kind: EventDisconnected, Cause: CauseRemote}); err != nil {
		t.Fatal(err)
	}
	r.RemoveCall("c")

	calls := r.Calls()
	if len(calls) != 1 || calls[0].ID != "a" {
		t.Fatalf("calls after remove = %+v, want only a", calls)
	}
	if got := r.ComputePhoneState(); got.Kind != SingleCall || got.PrimaryID() != "a" {
		t.Errorf("state = %s primary %q", got.Kind, got.PrimaryID())
	}
}

func TestRegistryCallEndedOnce(t *testing.T) {
	r := NewRegistry(testLogger())
	var ended []Call
	r.OnCallEnded(func(c Call) { ended = append(ended, c) })

	c := mk("a", StateDialing)
	c.Direction = DirectionOutgoing
	r.AddCall(c)
	r.AddCall(mk("b", StateActive))

	if err := r.OnEvent("a", Event{Kind: EventDisconnected, Cause: CauseBusy}); err != nil {
		t.Fatal(err)
	}
	if err := r.OnEvent("a", Event{Kind: EventStateChanged, State: StateDisconnected}); err != nil {
		t.Fatal(err)
	}
	r.RemoveCall("a")
	r.RemoveCall("b")

	if len(ended) != 2 {
		t.Fatalf("ended = %d, want 2", len(ended))
	}
	if ended[0].ID != "a" || ended[0].Cause != CauseBusy || !ended[0].WasOutgoing() {
		t.Errorf("first ended = %+v", ended[0])
	}
	if ended[1].ID != "b" {
		t.Errorf("second ended = %q, want b", ended[1].ID)
	}
}

func TestRegistryUnknownCallEvent(t *testing.T) {
	r := NewRegistry(testLogger())
	err := r.OnEvent("missing", Event{Kind: EventStateChanged, State: StateActive})
	if !errors.Is(err, ErrUnknownCall) {
		t.Errorf("err = %v, want ErrUnknownCall", err)
	}
}

func TestRegistryChildrenEventMarksConference(t *testing.T) {
	r := NewRegistry(testLogger())
	r.AddCall(mk("conf", StateActive))
	r.AddCall(mk("c1", StateActive))
	r.AddCall(mk("c2", StateActive))

	if got := r.ComputePhoneState(); got.Kind != NoCall {
		t.Fatalf("before merge: kind = %s, want no_call", got.Kind)
	}

	if err := r.OnEvent("conf", Event{Kind: EventChildrenChanged, Children: []string{"c1", "c2"}}); err != nil {
		t.Fatal(err)
	}
	if got := r.ComputePhoneState(); got.Kind != SingleCall || got.PrimaryID() != "conf" {
		t.Errorf("after merge: %s primary %q", got.Kind, got.PrimaryID())
	}
}

func TestRegistryOrderIndependence(t *testing.T) {
	final := []Call{
		mk("a", StateHolding),
		mk("b", StateActive),
	}

	build := func(seed int64) PhoneState {
		rng := rand.New(rand.NewSource(seed))
		r := NewRegistry(testLogger())

		order := rng.Perm(len(final))
		for _, i := range order {
			r.AddCall(mk(final[i].ID, StateDialing))
		}
		// Add and remove a transient call at a random point.
		r.AddCall(mk("tmp", StateRinging))
		r.RemoveCall("tmp")

		for _, i := range rng.Perm(len(final)) {
			if err := r.OnEvent(final[i].ID, Event{Kind: EventStateChanged, State: final[i].State}); err != nil {
				t.Fatal(err)
			}
		}
		return r.ComputePhoneState()
	}

	want := build(1)
	if want.Kind != TwoCalls || want.PrimaryID() != "b" {
		t.Fatalf("state = %+v, want b in foreground", want)
	}
	for seed := int64(2); seed < 20; seed++ {
		if got := build(seed); !got.Equal(want) {
			t.Fatalf("seed %d: state %+v differs from %+v", seed, got, want)
		}
	}
}

func TestRegistryAudioState(t *testing.T) {
	r := NewRegistry(testLogger())
	want := audio.State{Route: audio.RouteBluetooth, Supported: 2 | 8}
	r.SetAudioState(want)
	if got := r.AudioState(); got != want {
		t.Errorf("AudioState = %+v, want %+v", got, want)
	}
}
