package api

import (
	"errors"
	"net/http"

	"github.com/flowpbx/callcore/internal/redial"
)

type redialResponse struct {
	redial.Status
	Enabled    bool   `json:"enabled"`
	MaxRetries int    `json:"max_retries"`
	Delay      string `json:"delay"`
}

func (s *Server) redialSnapshot() redialResponse {
	cfg := s.redial.Config()
	return redialResponse{
		Status:     s.redial.Status(),
		Enabled:    cfg.Enabled,
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.Delay.String(),
	}
}

func (s *Server) handleRedialStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.redialSnapshot())
}

// handleRedial dials the last number now, dropping any scheduled redial.
func (s *Server) handleRedial(w http.ResponseWriter, r *http.Request) {
	if err := s.redial.Redial(r.Context()); err != nil {
		if errors.Is(err, redial.ErrNothingToRedial) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Warn("manual redial failed", "error", err)
		writeError(w, http.StatusBadGateway, "platform rejected dial request")
		return
	}
	writeJSON(w, http.StatusAccepted, s.redialSnapshot())
}

// handleCancelRedial cancels a scheduled redial. It is a no-op when none is
// pending.
func (s *Server) handleCancelRedial(w http.ResponseWriter, r *http.Request) {
	s.redial.Cancel()
	w.WriteHeader(http.StatusNoContent)
}
