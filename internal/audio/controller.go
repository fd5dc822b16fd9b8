package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// StateSource reports the platform's current audio state.
type StateSource interface {
	AudioState() State
}

// RouteSink applies a route change on the platform.
type RouteSink interface {
	SetAudioRoute(ctx context.Context, mask int) error
}

// Controller owns speaker toggling and route selection for the active call.
// All route changes go through SetRoute. Whether the speaker is on is always
// read from the StateSource, never tracked locally.
//
// All methods are safe for concurrent use.
type Controller struct {
	source StateSource
	sink   RouteSink
	logger *slog.Logger

	mu        sync.Mutex
	prior     Route // last non-speaker route left; zero if none
	observers []func(Route)
}

// NewController creates a routing controller reading capabilities from source
// and applying changes through sink.
func NewController(source StateSource, sink RouteSink, logger *slog.Logger) *Controller {
	return &Controller{
		source: source,
		sink:   sink,
		logger: logger.With("subsystem", "audio-routing"),
	}
}

// Subscribe registers fn to receive every resolved route change.
func (c *Controller) Subscribe(fn func(Route)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// IsSpeakerOn reports whether the platform currently routes to the speaker.
func (c *Controller) IsSpeakerOn() bool {
	return c.source.AudioState().Route.IsSpeaker()
}

// PriorRoute returns the remembered route to return to when the speaker is
// switched off, and false if none has been recorded yet.
func (c *Controller) PriorRoute() (Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prior, c.prior != 0
}

// ToggleSpeaker switches the speaker. With keepCallsMode the speaker is only
// ever switched on, and only from earpiece or wired headset; otherwise the
// call is a no-op. Without it, the speaker is flipped on, or off back to the
// remembered prior route. It returns the route in effect afterwards.
func (c *Controller) ToggleSpeaker(ctx context.Context, keepCallsMode bool) (Route, error) {
	current := c.source.AudioState().Route

	if keepCallsMode {
		if !current.IsEarpieceOrWired() {
			return current, nil
		}
		return c.SetRoute(ctx, RouteSpeaker)
	}

	if !current.IsSpeaker() {
		return c.SetRoute(ctx, RouteSpeaker)
	}

	c.mu.Lock()
	target := c.prior
	c.mu.Unlock()
	if target == 0 {
		target = RouteWiredOrEarpiece
	}
	return c.SetRoute(ctx, target)
}

// SetRoute requests a route change. The request is resolved against the
// supported routes first; the resolved route is applied and announced to
// observers.
func (c *Controller) SetRoute(ctx context.Context, requested Route) (Route, error) {
	state := c.source.AudioState()
	resolved := ResolveFallbackRoute(requested, state.Supported)

	if err := c.sink.SetAudioRoute(ctx, resolved.Mask()); err != nil {
		return state.Route, fmt.Errorf("setting audio route %s: %w", resolved, err)
	}

	c.mu.Lock()
	if !state.Route.IsSpeaker() && state.Route != 0 && resolved != state.Route {
		c.prior = state.Route
	}
	observers := make([]func(Route), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	if resolved != requested {
		c.logger.Info("requested audio route unsupported, using fallback",
			"requested", requested.String(),
			"resolved", resolved.String(),
			"supported_mask", state.Supported,
		)
	} else {
		c.logger.Debug("audio route set", "route", resolved.String())
	}

	for _, fn := range observers {
		fn(resolved)
	}
	return resolved, nil
}
