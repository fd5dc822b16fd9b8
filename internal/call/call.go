package call

import "fmt"

// Direction is whether a call was placed or received.
type Direction int

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDirection parses "incoming" or "outgoing".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "incoming":
		return DirectionIncoming, nil
	case "outgoing":
		return DirectionOutgoing, nil
	default:
		return 0, fmt.Errorf("unknown call direction %q", s)
	}
}

// State is the lifecycle state of a single call.
type State int

const (
	StateNew State = iota
	StateDialing
	StateRinging
	StateActive
	StateHolding
	StateDisconnecting
	StateDisconnected
)

var stateNames = map[State]string{
	StateNew:           "new",
	StateDialing:       "dialing",
	StateRinging:       "ringing",
	StateActive:        "active",
	StateHolding:       "holding",
	StateDisconnecting: "disconnecting",
	StateDisconnected:  "disconnected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState parses the string form produced by String.
func ParseState(s string) (State, error) {
	for st, name := range stateNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown call state %q", s)
}

// IsNew reports whether the call is still being set up (connecting, dialing
// or ringing).
func (s State) IsNew() bool {
	return s == StateNew || s == StateDialing || s == StateRinging
}

// IsTerminal reports whether the call has ended.
func (s State) IsTerminal() bool {
	return s == StateDisconnected
}

// DisconnectCause is the reason a call ended, reported with the terminal state.
type DisconnectCause string

const (
	CauseNone     DisconnectCause = ""
	CauseNormal   DisconnectCause = "normal"
	CauseLocal    DisconnectCause = "local"
	CauseRemote   DisconnectCause = "remote"
	CauseBusy     DisconnectCause = "busy"
	CauseCanceled DisconnectCause = "canceled"
	CauseError    DisconnectCause = "error"
	CauseRejected DisconnectCause = "rejected"
	CauseMissed   DisconnectCause = "missed"
	CauseUnknown  DisconnectCause = "unknown"
)

// Call is a snapshot of one in-progress call as last reported by the
// platform. Values are copied out of the registry; mutating a snapshot has
// no effect on the registry.
type Call struct {
	ID         string          `json:"id"`
	Direction  Direction       `json:"direction"`
	State      State           `json:"state"`
	Conference bool            `json:"conference"`
	Children   []string        `json:"children,omitempty"`
	Cause      DisconnectCause `json:"disconnect_cause,omitempty"`

	Number     string `json:"number,omitempty"`
	CallerName string `json:"caller_name,omitempty"`
	SIMSlot    int    `json:"sim_slot,omitempty"`
	Account    string `json:"account,omitempty"`
}

// WasOutgoing reports whether the call was placed from this device.
func (c Call) WasOutgoing() bool {
	return c.Direction == DirectionOutgoing
}

// clone returns a deep copy so the Children slice is not shared.
func (c Call) clone() Call {
	if c.Children != nil {
		c.Children = append([]string(nil), c.Children...)
	}
	return c
}

// EventKind identifies a platform callback translated into a registry event.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventChildrenChanged
	EventDisconnected
	EventDetailsChanged
)

// Event is a single platform callback for one call.
type Event struct {
	Kind EventKind

	State    State           // EventStateChanged
	Children []string        // EventChildrenChanged
	Cause    DisconnectCause // EventDisconnected

	// EventDetailsChanged
	Number     string
	CallerName string
	SIMSlot    int
	Account    string
}
