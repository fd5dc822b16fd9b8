package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/flowpbx/callcore/internal/database"
	"github.com/flowpbx/callcore/internal/database/models"
	"github.com/flowpbx/callcore/internal/incall"
	"github.com/flowpbx/callcore/internal/recording"
	"github.com/go-chi/chi/v5"
)

// recordingStatusResponse is the shape returned by GET /recording.
type recordingStatusResponse struct {
	Active  bool                   `json:"active"`
	Stats   *recording.Stats       `json:"stats"`
	Totals  incall.RecordingTotals `json:"totals"`
	Enabled bool                   `json:"enabled"`
}

type startRecordingRequest struct {
	CallID string `json:"call_id"`
}

type sessionResponse struct {
	SessionID  string `json:"session_id"`
	CallID     string `json:"call_id"`
	FilePath   string `json:"file_path"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	StartedAt  string `json:"started_at"`
}

// finishedResponse describes a stopped recording.
type finishedResponse struct {
	SessionID string `json:"session_id"`
	CallID    string `json:"call_id"`
	FilePath  string `json:"file_path"`
	recording.Metadata
}

// recordingResponse is one entry of the recording index.
type recordingResponse struct {
	ID             int64   `json:"id"`
	SessionID      string  `json:"session_id"`
	CallID         string  `json:"call_id"`
	FilePath       string  `json:"file_path"`
	Format         string  `json:"format"`
	Direction      string  `json:"direction"`
	PhoneNumber    string  `json:"phone_number"`
	SampleRate     int     `json:"sample_rate"`
	FramesTotal    int64   `json:"frames_total"`
	FramesEncoded  int64   `json:"frames_encoded"`
	BufferOverruns int64   `json:"buffer_overruns"`
	WasEverPaused  bool    `json:"was_ever_paused"`
	WasEverHolding bool    `json:"was_ever_holding"`
	DurationSecs   float64 `json:"duration_secs"`
	StartedAt      string  `json:"started_at"`
	EndedAt        string  `json:"ended_at"`
}

func toRecordingResponse(rec *models.Recording) recordingResponse {
	resp := recordingResponse{
		ID:             rec.ID,
		SessionID:      rec.SessionID,
		CallID:         rec.CallID,
		FilePath:       rec.FilePath,
		Format:         rec.Format,
		Direction:      rec.Direction,
		PhoneNumber:    rec.PhoneNumber,
		SampleRate:     rec.SampleRate,
		FramesTotal:    rec.FramesTotal,
		FramesEncoded:  rec.FramesEncoded,
		BufferOverruns: rec.BufferOverruns,
		WasEverPaused:  rec.WasEverPaused,
		WasEverHolding: rec.WasEverHolding,
		StartedAt:      rec.StartedAt.Format(time.RFC3339),
		EndedAt:        rec.EndedAt.Format(time.RFC3339),
	}
	if rec.SampleRate > 0 {
		resp.DurationSecs = float64(rec.FramesEncoded) / float64(rec.SampleRate)
	}
	return resp
}

// writeRecordingError maps recorder errors onto HTTP statuses.
func (s *Server) writeRecordingError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, incall.ErrNoCall):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, incall.ErrRecordingDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, recording.ErrAlreadyRecording), errors.Is(err, recording.ErrNotRecording),
		errors.Is(err, recording.ErrStartAborted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, recording.ErrDeviceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) recordingStatus() recordingStatusResponse {
	resp := recordingStatusResponse{
		Totals:  s.incall.RecordingTotals(),
		Enabled: s.incall.Settings().RecordingEnabled,
	}
	if st, ok := s.incall.RecordingStats(); ok {
		resp.Active = true
		resp.Stats = &st
	}
	return resp
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recordingStatus())
}

// handleStartRecording records the call named in the body, or the primary
// call when the body is empty.
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if r.ContentLength != 0 {
		if errMsg := readJSON(r, &req); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
	}
	if msg := validateStringLen("call_id", req.CallID, maxCallIDLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	sess, err := s.incall.StartRecording(r.Context(), req.CallID)
	if err != nil {
		s.writeRecordingError(w, "starting recording", err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:  sess.ID,
		CallID:     sess.CallID,
		FilePath:   sess.FilePath,
		Format:     string(sess.Format),
		SampleRate: sess.SampleRate,
		StartedAt:  sess.StartedAt.Format(time.RFC3339),
	})
}

func (s *Server) handlePauseRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.incall.PauseRecording(); err != nil {
		s.writeRecordingError(w, "pausing recording", err)
		return
	}
	writeJSON(w, http.StatusOK, s.recordingStatus())
}

func (s *Server) handleResumeRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.incall.ResumeRecording(); err != nil {
		s.writeRecordingError(w, "resuming recording", err)
		return
	}
	writeJSON(w, http.StatusOK, s.recordingStatus())
}

// handleStopRecording stops the running recording and returns its metadata
// once the file is finalized.
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	m, err := s.incall.StopRecording()
	if err != nil {
		s.writeRecordingError(w, "stopping recording", err)
		return
	}
	writeJSON(w, http.StatusOK, finishedResponse{
		SessionID: m.SessionID,
		CallID:    m.CallID,
		FilePath:  m.FilePath,
		Metadata:  m,
	})
}

// handleListRecordings returns the recording index, newest first.
// Query params: limit, offset, search, direction.
func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	if s.recordings == nil {
		writeError(w, http.StatusServiceUnavailable, "recording index unavailable")
		return
	}

	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	direction := q.Get("direction")
	if direction != "" && direction != "incoming" && direction != "outgoing" {
		writeError(w, http.StatusBadRequest, "direction must be \"incoming\" or \"outgoing\"")
		return
	}
	search := q.Get("search")
	if msg := validateStringLen("search", search, maxNumberLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	recs, total, err := s.recordings.List(r.Context(), database.RecordingListFilter{
		Limit:     pg.Limit,
		Offset:    pg.Offset,
		Search:    search,
		Direction: direction,
	})
	if err != nil {
		s.logger.Error("list recordings: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]recordingResponse, len(recs))
	for i := range recs {
		items[i] = toRecordingResponse(&recs[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleGetRecording returns one index entry by session ID.
func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	if s.recordings == nil {
		writeError(w, http.StatusServiceUnavailable, "recording index unavailable")
		return
	}

	id := chi.URLParam(r, "sessionID")
	rec, err := s.recordings.GetBySessionID(r.Context(), id)
	if err != nil {
		s.logger.Error("get recording: failed to query", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	writeJSON(w, http.StatusOK, toRecordingResponse(rec))
}
