package audio

import "fmt"

// Route is a physical audio path for the active call. Its numeric value is
// the platform route bitmask.
type Route int

const (
	RouteEarpiece        Route = 1
	RouteBluetooth       Route = 2
	RouteWiredHeadset    Route = 4
	RouteSpeaker         Route = 8
	RouteWiredOrEarpiece Route = RouteEarpiece | RouteWiredHeadset
)

// allRoutes lists every route in declaration order.
var allRoutes = []Route{
	RouteEarpiece,
	RouteBluetooth,
	RouteWiredHeadset,
	RouteSpeaker,
	RouteWiredOrEarpiece,
}

// Mask returns the platform bitmask for the route.
func (r Route) Mask() int {
	return int(r)
}

// RouteFromMask maps a platform bitmask back to its route. It returns false
// for masks that do not correspond to exactly one route.
func RouteFromMask(mask int) (Route, bool) {
	for _, r := range allRoutes {
		if r.Mask() == mask {
			return r, true
		}
	}
	return 0, false
}

// ParseRoute parses the string form produced by String.
func ParseRoute(s string) (Route, error) {
	for _, r := range allRoutes {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown audio route %q", s)
}

func (r Route) String() string {
	switch r {
	case RouteEarpiece:
		return "earpiece"
	case RouteBluetooth:
		return "bluetooth"
	case RouteWiredHeadset:
		return "wired_headset"
	case RouteSpeaker:
		return "speaker"
	case RouteWiredOrEarpiece:
		return "wired_or_earpiece"
	default:
		return "unknown"
	}
}

// IsSpeaker reports whether the route plays through the loudspeaker.
func (r Route) IsSpeaker() bool {
	return r == RouteSpeaker
}

// IsEarpieceOrWired reports whether the route is the handset earpiece or a
// wired headset.
func (r Route) IsEarpieceOrWired() bool {
	return r == RouteEarpiece || r == RouteWiredHeadset || r == RouteWiredOrEarpiece
}

// State is the audio state reported by the platform: the route in use and
// the bitmask of routes the hardware currently supports.
type State struct {
	Route     Route `json:"route"`
	Supported int   `json:"supported_mask"`
}

// Supports reports whether the route is usable under the given supported
// mask. The combined wired-or-earpiece route is usable if either half is.
func Supports(supported int, r Route) bool {
	if r == RouteWiredOrEarpiece {
		return supported&r.Mask() != 0
	}
	return supported&r.Mask() == r.Mask()
}

// ResolveFallbackRoute returns preferred if it is supported, otherwise the
// first supported route in the order bluetooth, wired/earpiece, speaker.
// Speaker is returned when nothing else is supported.
func ResolveFallbackRoute(preferred Route, supported int) Route {
	if Supports(supported, preferred) {
		return preferred
	}
	if Supports(supported, RouteBluetooth) {
		return RouteBluetooth
	}
	if Supports(supported, RouteWiredOrEarpiece) {
		return RouteWiredOrEarpiece
	}
	return RouteSpeaker
}
