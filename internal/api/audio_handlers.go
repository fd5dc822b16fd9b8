package api

import (
	"net/http"
	"strconv"

	"github.com/flowpbx/callcore/internal/audio"
)

// audioResponse describes the platform audio state.
type audioResponse struct {
	Route         string   `json:"route"`
	SupportedMask int      `json:"supported_mask"`
	Supported     []string `json:"supported"`
	SpeakerOn     bool     `json:"speaker_on"`
	PriorRoute    string   `json:"prior_route,omitempty"`
}

// audioStateRequest is the platform's report of its current route and the
// routes the hardware supports right now.
type audioStateRequest struct {
	RouteMask     int `json:"route_mask"`
	SupportedMask int `json:"supported_mask"`
}

type routeRequest struct {
	Route string `json:"route"`
}

type routeResponse struct {
	Requested string `json:"requested"`
	Route     string `json:"route"`
}

// allRoutesMask covers every physical route bit.
const allRoutesMask = int(audio.RouteEarpiece | audio.RouteBluetooth | audio.RouteWiredHeadset | audio.RouteSpeaker)

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.audioSnapshot())
}

// handleSetAudioState records the audio state reported by the platform.
// A route mask of 0 means no route is active yet.
func (s *Server) handleSetAudioState(w http.ResponseWriter, r *http.Request) {
	var req audioStateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	var route audio.Route
	if req.RouteMask != 0 {
		rt, ok := audio.RouteFromMask(req.RouteMask)
		if !ok {
			writeError(w, http.StatusBadRequest, "route_mask does not name a single route")
			return
		}
		route = rt
	}
	if req.SupportedMask < 0 || req.SupportedMask&^allRoutesMask != 0 {
		writeError(w, http.StatusBadRequest, "supported_mask has unknown bits")
		return
	}

	s.registry.SetAudioState(audio.State{Route: route, Supported: req.SupportedMask})
	writeJSON(w, http.StatusOK, s.audioSnapshot())
}

// handleSetRoute asks for a specific route. Unsupported routes fall back to
// the best supported one; the response names the route actually applied.
func (s *Server) handleSetRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	requested, err := audio.ParseRoute(req.Route)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resolved, err := s.audio.SetRoute(r.Context(), requested)
	if err != nil {
		s.logger.Warn("setting audio route", "route", requested.String(), "error", err)
		writeError(w, http.StatusBadGateway, "platform rejected route change")
		return
	}
	writeJSON(w, http.StatusOK, routeResponse{Requested: requested.String(), Route: resolved.String()})
}

// handleToggleSpeaker flips the speaker. The optional keep_calls query
// parameter overrides the configured keep-calls-on-speaker mode.
func (s *Server) handleToggleSpeaker(w http.ResponseWriter, r *http.Request) {
	var keep *bool
	if v := r.URL.Query().Get("keep_calls"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "keep_calls must be a boolean")
			return
		}
		keep = &b
	}

	route, err := s.incall.ToggleSpeaker(r.Context(), keep)
	if err != nil {
		s.logger.Warn("toggling speaker", "error", err)
		writeError(w, http.StatusBadGateway, "platform rejected route change")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"route":      routeName(route),
		"speaker_on": route.IsSpeaker(),
	})
}
