package call

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/flowpbx/callcore/internal/audio"
)

// ErrUnknownCall is returned for events addressed to a call the registry
// does not hold.
var ErrUnknownCall = errors.New("unknown call")

// Observer receives the phone state after every mutation. Exactly one method
// is invoked per mutation: OnPrimaryCallChanged when the primary call's
// identity changed, OnStateChanged otherwise.
//
// Observers run on the mutating goroutine after the registry's state lock is
// released. They may read from the registry but must not mutate it.
type Observer interface {
	OnPrimaryCallChanged(state PhoneState)
	OnStateChanged(state PhoneState)
}

// Registry holds the set of live calls reported by the platform and derives
// the phone state from it. It is the single owner of the call set; every
// mutation is serialized, and observers see notifications in mutation order.
type Registry struct {
	logger *slog.Logger

	// opMu serializes mutations together with their notifications.
	opMu sync.Mutex

	mu        sync.RWMutex
	calls     map[string]*Call
	ended     map[string]bool // call IDs already reported as ended
	primaryID string
	audio     audio.State

	observers []Observer
	endedFns  []func(Call)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("subsystem", "call-registry"),
		calls:  make(map[string]*Call),
		ended:  make(map[string]bool),
	}
}

// Subscribe registers an observer for phone state changes.
func (r *Registry) Subscribe(o Observer) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.observers = append(r.observers, o)
}

// OnCallEnded registers fn to be called once per call, the first time the
// call is seen in the disconnected state or removed.
func (r *Registry) OnCallEnded(fn func(Call)) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.endedFns = append(r.endedFns, fn)
}

// AddCall inserts a call. Inserting an ID that is already present is a
// no-op and reports false.
func (r *Registry) AddCall(c Call) bool {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if _, exists := r.calls[c.ID]; exists {
		r.mu.Unlock()
		r.logger.Debug("ignoring duplicate call", "call_id", c.ID)
		return false
	}
	stored := c.clone()
	r.calls[c.ID] = &stored
	var ended []Call
	if stored.State.IsTerminal() {
		ended = r.markEndedLocked(&stored)
	}
	r.mu.Unlock()

	r.logger.Info("call added",
		"call_id", c.ID,
		"direction", c.Direction.String(),
		"state", c.State.String(),
	)
	r.publish(ended)
	return true
}

// RemoveCall deletes a call. Any other call already in the disconnected
// state is purged at the same time.
func (r *Registry) RemoveCall(id string) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	var ended []Call
	for cid, c := range r.calls {
		if cid != id && !c.State.IsTerminal() {
			continue
		}
		ended = append(ended, r.markEndedLocked(c)...)
		delete(r.calls, cid)
		delete(r.ended, cid)
	}
	r.mu.Unlock()

	r.logger.Info("call removed", "call_id", id)
	r.publish(ended)
}

// OnEvent applies a platform callback to the call with the given ID.
func (r *Registry) OnEvent(id string, ev Event) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	c, ok := r.calls[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownCall
	}

	switch ev.Kind {
	case EventStateChanged:
		c.State = ev.State
	case EventChildrenChanged:
		c.Children = append([]string(nil), ev.Children...)
		c.Conference = len(c.Children) > 0
	case EventDisconnected:
		c.State = StateDisconnected
		c.Cause = ev.Cause
	case EventDetailsChanged:
		c.Number = ev.Number
		c.CallerName = ev.CallerName
		c.SIMSlot = ev.SIMSlot
		c.Account = ev.Account
	}

	var ended []Call
	if c.State.IsTerminal() {
		ended = r.markEndedLocked(c)
	}
	state := c.State
	r.mu.Unlock()

	r.logger.Debug("call event applied", "call_id", id, "kind", int(ev.Kind), "state", state.String())
	r.publish(ended)
	return nil
}

// markEndedLocked returns the call as a one-element slice the first time it
// is seen ended, nil afterwards. r.mu must be held.
func (r *Registry) markEndedLocked(c *Call) []Call {
	if r.ended[c.ID] {
		return nil
	}
	r.ended[c.ID] = true
	return []Call{c.clone()}
}

// publish recomputes the phone state and notifies observers and call-ended
// listeners. r.opMu must be held and r.mu must not be.
func (r *Registry) publish(ended []Call) {
	r.mu.Lock()
	state := ComputePhoneState(r.snapshotLocked())
	prevPrimary := r.primaryID
	r.primaryID = state.PrimaryID()
	r.mu.Unlock()

	primaryChanged := state.PrimaryID() != prevPrimary
	for _, o := range r.observers {
		if primaryChanged {
			o.OnPrimaryCallChanged(state)
		} else {
			o.OnStateChanged(state)
		}
	}

	for _, c := range ended {
		r.logger.Info("call ended", "call_id", c.ID, "cause", string(c.Cause))
		for _, fn := range r.endedFns {
			fn(c)
		}
	}
}

// snapshotLocked copies the call set. r.mu must be held.
func (r *Registry) snapshotLocked() []Call {
	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.clone())
	}
	return out
}

// Calls returns a snapshot of all live calls ordered by ID.
func (r *Registry) Calls() []Call {
	r.mu.RLock()
	out := r.snapshotLocked()
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Call returns a snapshot of one call.
func (r *Registry) Call(id string) (Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, false
	}
	return c.clone(), true
}

// ComputePhoneState derives the phone state from the current call set.
func (r *Registry) ComputePhoneState() PhoneState {
	r.mu.RLock()
	calls := r.snapshotLocked()
	r.mu.RUnlock()
	return ComputePhoneState(calls)
}

// PrimaryCall returns the call representing the current phone state.
func (r *Registry) PrimaryCall() (Call, bool) {
	state := r.ComputePhoneState()
	if state.Primary == nil {
		return Call{}, false
	}
	return *state.Primary, true
}

// GetActiveCallCount returns the number of live calls.
func (r *Registry) GetActiveCallCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// AudioState returns the last audio state reported by the platform.
func (r *Registry) AudioState() audio.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio
}

// SetAudioState records the audio state reported by the platform.
func (r *Registry) SetAudioState(s audio.State) {
	r.mu.Lock()
	r.audio = s
	r.mu.Unlock()
	r.logger.Debug("audio state updated", "route", s.Route.String(), "supported_mask", s.Supported)
}
