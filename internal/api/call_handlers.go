package api

import (
	"errors"
	"net/http"

	"github.com/flowpbx/callcore/internal/audio"
	"github.com/flowpbx/callcore/internal/call"
	"github.com/flowpbx/callcore/internal/recording"
	"github.com/flowpbx/callcore/internal/redial"
	"github.com/go-chi/chi/v5"
)

// stateResponse is the shape returned by GET /state.
type stateResponse struct {
	Phone     call.PhoneState  `json:"phone"`
	Calls     []call.Call      `json:"calls"`
	Audio     audioResponse    `json:"audio"`
	Recording *recording.Stats `json:"recording"`
	Redial    redial.Status    `json:"redial"`
}

// callRequest is the body accepted by POST /calls.
type callRequest struct {
	ID         string   `json:"id"`
	Direction  string   `json:"direction"`
	State      string   `json:"state"`
	Children   []string `json:"children"`
	Number     string   `json:"number"`
	CallerName string   `json:"caller_name"`
	SIMSlot    int      `json:"sim_slot"`
	Account    string   `json:"account"`
}

// callEventRequest is the body accepted by POST /calls/{id}/events. Type
// selects which of the remaining fields are read.
type callEventRequest struct {
	Type       string   `json:"type"` // state, children, disconnected, details
	State      string   `json:"state"`
	Children   []string `json:"children"`
	Cause      string   `json:"cause"`
	Number     string   `json:"number"`
	CallerName string   `json:"caller_name"`
	SIMSlot    int      `json:"sim_slot"`
	Account    string   `json:"account"`
}

var knownCauses = map[call.DisconnectCause]bool{
	call.CauseNormal:   true,
	call.CauseLocal:    true,
	call.CauseRemote:   true,
	call.CauseBusy:     true,
	call.CauseCanceled: true,
	call.CauseError:    true,
	call.CauseRejected: true,
	call.CauseMissed:   true,
	call.CauseUnknown:  true,
}

// parseCause maps a platform cause string onto a DisconnectCause. Causes the
// platform invents later are reported as unknown.
func parseCause(s string) call.DisconnectCause {
	c := call.DisconnectCause(s)
	if knownCauses[c] {
		return c
	}
	return call.CauseUnknown
}

func validateDetails(number, callerName, account string, simSlot int) string {
	return firstError(
		validatePhoneNumber("number", number),
		validateStringLen("caller_name", callerName, maxNameLen),
		validateStringLen("account", account, maxNameLen),
		validateIntRange("sim_slot", &simSlot, 0, 8),
	)
}

func validateChildren(children []string) string {
	for _, id := range children {
		if msg := validateRequiredStringLen("children[]", id, maxCallIDLen); msg != "" {
			return msg
		}
	}
	return ""
}

// handleGetState returns the phone state together with every live call and
// the audio, recording and redial status.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Phone:  s.registry.ComputePhoneState(),
		Calls:  s.registry.Calls(),
		Audio:  s.audioSnapshot(),
		Redial: s.redial.Status(),
	}
	if st, ok := s.incall.RecordingStats(); ok {
		resp.Recording = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListCalls returns every live call ordered by ID.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Calls())
}

// handleGetCall returns one call.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	c, ok := s.registry.Call(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleAddCall registers a call reported by the platform.
func (s *Server) handleAddCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if msg := firstError(
		validateRequiredStringLen("id", req.ID, maxCallIDLen),
		validateDetails(req.Number, req.CallerName, req.Account, req.SIMSlot),
		validateChildren(req.Children),
	); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	dir, err := call.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "direction must be \"incoming\" or \"outgoing\"")
		return
	}
	state := call.StateNew
	if req.State != "" {
		if state, err = call.ParseState(req.State); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	c := call.Call{
		ID:         req.ID,
		Direction:  dir,
		State:      state,
		Conference: len(req.Children) > 0,
		Children:   req.Children,
		Number:     req.Number,
		CallerName: req.CallerName,
		SIMSlot:    req.SIMSlot,
		Account:    req.Account,
	}
	if !s.registry.AddCall(c) {
		writeError(w, http.StatusConflict, "call already exists")
		return
	}

	if stored, ok := s.registry.Call(c.ID); ok {
		c = stored
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleRemoveCall drops a call the platform no longer reports.
func (s *Server) handleRemoveCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.registry.Call(id); !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	s.registry.RemoveCall(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleCallEvent applies one platform callback to a call and returns the
// updated call.
func (s *Server) handleCallEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req callEventRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	var ev call.Event
	switch req.Type {
	case "state":
		st, err := call.ParseState(req.State)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ev = call.Event{Kind: call.EventStateChanged, State: st}
	case "children":
		if msg := validateChildren(req.Children); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		ev = call.Event{Kind: call.EventChildrenChanged, Children: req.Children}
	case "disconnected":
		ev = call.Event{Kind: call.EventDisconnected, Cause: parseCause(req.Cause)}
	case "details":
		if msg := validateDetails(req.Number, req.CallerName, req.Account, req.SIMSlot); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		ev = call.Event{
			Kind:       call.EventDetailsChanged,
			Number:     req.Number,
			CallerName: req.CallerName,
			SIMSlot:    req.SIMSlot,
			Account:    req.Account,
		}
	default:
		writeError(w, http.StatusBadRequest, "type must be one of state, children, disconnected, details")
		return
	}

	if err := s.registry.OnEvent(id, ev); err != nil {
		if errors.Is(err, call.ErrUnknownCall) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		s.logger.Error("applying call event", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	c, ok := s.registry.Call(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// audioSnapshot reports the platform audio state in API form.
func (s *Server) audioSnapshot() audioResponse {
	st := s.registry.AudioState()
	resp := audioResponse{
		Route:         routeName(st.Route),
		SupportedMask: st.Supported,
		SpeakerOn:     st.Route.IsSpeaker(),
	}
	for _, rt := range []audio.Route{audio.RouteEarpiece, audio.RouteBluetooth, audio.RouteWiredHeadset, audio.RouteSpeaker} {
		if audio.Supports(st.Supported, rt) {
			resp.Supported = append(resp.Supported, rt.String())
		}
	}
	if prior, ok := s.audio.PriorRoute(); ok {
		resp.PriorRoute = prior.String()
	}
	return resp
}

func routeName(r audio.Route) string {
	if r == 0 {
		return ""
	}
	return r.String()
}
