package audio

import "testing"

func TestRouteMaskRoundTrip(t *testing.T) {
	seen := make(map[int]Route)
	for _, r := range allRoutes {
		mask := r.Mask()
		if prev, dup := seen[mask]; dup {
			t.Fatalf("mask %d shared by %s and %s", mask, prev, r)
		}
		seen[mask] = r

		got, ok := RouteFromMask(mask)
		if !ok {
			t.Fatalf("RouteFromMask(%d) not found", mask)
		}
		if got != r {
			t.Errorf("RouteFromMask(%d) = %s, want %s", mask, got, r)
		}
	}
}

func TestRouteFromMaskUnknown(t *testing.T) {
	for _, mask := range []int{0, 3, 6, 15, 16} {
		if r, ok := RouteFromMask(mask); ok {
			t.Errorf("RouteFromMask(%d) = %s, want not found", mask, r)
		}
	}
}

func TestParseRoute(t *testing.T) {
	for _, r := range allRoutes {
		got, err := ParseRoute(r.String())
		if err != nil {
			t.Fatalf("ParseRoute(%q): %v", r.String(), err)
		}
		if got != r {
			t.Errorf("ParseRoute(%q) = %s, want %s", r.String(), got, r)
		}
	}
	if _, err := ParseRoute("hdmi"); err == nil {
		t.Error("expected error for unknown route")
	}
}

func TestResolveFallbackRoute(t *testing.T) {
	all := RouteEarpiece.Mask() | RouteBluetooth.Mask() | RouteWiredHeadset.Mask() | RouteSpeaker.Mask()

	tests := []struct {
		name      string
		preferred Route
		supported int
		want      Route
	}{
		{"preferred supported", RouteSpeaker, all, RouteSpeaker},
		{"bluetooth first", RouteWiredHeadset, RouteBluetooth.Mask() | RouteEarpiece.Mask() | RouteSpeaker.Mask(), RouteBluetooth},
		{"earpiece when no bluetooth", RouteBluetooth, RouteEarpiece.Mask() | RouteSpeaker.Mask(), RouteWiredOrEarpiece},
		{"speaker last", RouteBluetooth, RouteSpeaker.Mask(), RouteSpeaker},
		{"speaker when nothing reported", RouteEarpiece, 0, RouteSpeaker},
		{"combined route with wired only", RouteWiredOrEarpiece, RouteWiredHeadset.Mask(), RouteWiredOrEarpiece},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveFallbackRoute(tt.preferred, tt.supported); got != tt.want {
				t.Errorf("ResolveFallbackRoute(%s, %d) = %s, want %s", tt.preferred, tt.supported, got, tt.want)
			}
		})
	}
}
