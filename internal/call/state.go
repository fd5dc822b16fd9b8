package call

import "sort"

// PhoneStateKind tags the variant held by a PhoneState.
type PhoneStateKind int

const (
	NoCall PhoneStateKind = iota
	SingleCall
	TwoCalls
)

func (k PhoneStateKind) String() string {
	switch k {
	case SingleCall:
		return "single_call"
	case TwoCalls:
		return "two_calls"
	default:
		return "no_call"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k PhoneStateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// PhoneState is the normalized view of all live calls. Primary is set for
// SingleCall and TwoCalls; Secondary only for TwoCalls. In TwoCalls the
// primary is the foreground call.
type PhoneState struct {
	Kind      PhoneStateKind `json:"kind"`
	Primary   *Call          `json:"primary,omitempty"`
	Secondary *Call          `json:"secondary,omitempty"`
}

func noCall() PhoneState { return PhoneState{Kind: NoCall} }

func single(c Call) PhoneState {
	c = c.clone()
	return PhoneState{Kind: SingleCall, Primary: &c}
}

func pair(primary, secondary Call) PhoneState {
	p, s := primary.clone(), secondary.clone()
	return PhoneState{Kind: TwoCalls, Primary: &p, Secondary: &s}
}

// PrimaryID returns the primary call's ID, or "" for NoCall.
func (ps PhoneState) PrimaryID() string {
	if ps.Primary == nil {
		return ""
	}
	return ps.Primary.ID
}

// Equal reports whether two states name the same calls in the same roles
// and with the same lifecycle states.
func (ps PhoneState) Equal(other PhoneState) bool {
	if ps.Kind != other.Kind {
		return false
	}
	return sameCall(ps.Primary, other.Primary) && sameCall(ps.Secondary, other.Secondary)
}

func sameCall(a, b *Call) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.State == b.State
}

// ComputePhoneState derives the phone state from a set of calls. It is a
// pure function of the set: input order does not matter, and malformed sets
// degrade to NoCall instead of failing.
func ComputePhoneState(calls []Call) PhoneState {
	sorted := make([]Call, len(calls))
	copy(sorted, calls)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	switch len(sorted) {
	case 0:
		return noCall()
	case 1:
		return single(sorted[0])
	case 2:
		return resolvePair(sorted[0], sorted[1])
	default:
		return resolveConference(sorted)
	}
}

// resolvePair assigns foreground and background roles to two calls. A call
// still being set up always wins the foreground against an active or held
// call; an active call wins against a held one.
func resolvePair(a, b Call) PhoneState {
	as, bs := a.State, b.State

	switch {
	case as == StateActive && bs.IsNew():
		return pair(b, a)
	case bs == StateActive && as.IsNew():
		return pair(a, b)
	case as.IsNew() && bs == StateHolding:
		return pair(a, b)
	case bs.IsNew() && as == StateHolding:
		return pair(b, a)
	case as == StateActive && bs == StateHolding:
		return pair(a, b)
	case bs == StateActive && as == StateHolding:
		return pair(b, a)
	default:
		return pair(a, b)
	}
}

// resolveConference handles three or more calls. The calls are expected to
// be one conference parent, its children, and at most one call outside it.
// Without a conference parent the set is uninterpretable and NoCall is
// reported.
func resolveConference(calls []Call) PhoneState {
	var conf *Call
	for i := range calls {
		if calls[i].Conference {
			conf = &calls[i]
			break
		}
	}
	if conf == nil {
		return noCall()
	}

	children := make(map[string]bool, len(conf.Children))
	for _, id := range conf.Children {
		children[id] = true
	}

	var extra *Call
	for i := range calls {
		c := &calls[i]
		if c.ID == conf.ID || children[c.ID] {
			continue
		}
		extra = c
		break
	}
	if extra == nil {
		return single(*conf)
	}

	if extra.State.IsNew() || extra.State == StateActive {
		return pair(*extra, *conf)
	}
	return pair(*conf, *extra)
}
