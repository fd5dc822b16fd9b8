package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flowpbx/callcore/internal/incall"
)

// Persisted setting keys.
const (
	keyAutoRedial       = "auto_redial"
	keyRedialMaxRetries = "redial_max_retries"
	keyRedialDelay      = "redial_delay"
	keyAutoRecord       = "auto_record"
	keyRecordingEnabled = "recording_enabled"
	keyKeepCallsSpeaker = "keep_calls_speaker"
)

const (
	maxRedialRetries = 20
	minRedialDelay   = time.Second
	maxRedialDelay   = 5 * time.Minute
)

// settingsResponse is the shape returned by GET /settings.
type settingsResponse struct {
	AutoRedial       bool   `json:"auto_redial"`
	RedialMaxRetries int    `json:"redial_max_retries"`
	RedialDelay      string `json:"redial_delay"`
	AutoRecord       string `json:"auto_record"`
	RecordingEnabled bool   `json:"recording_enabled"`
	KeepCallsSpeaker bool   `json:"keep_calls_speaker"`
}

// settingsRequest is the shape accepted by PUT /settings. Omitted fields are
// left unchanged.
type settingsRequest struct {
	AutoRedial       *bool   `json:"auto_redial"`
	RedialMaxRetries *int    `json:"redial_max_retries"`
	RedialDelay      *string `json:"redial_delay"`
	AutoRecord       *string `json:"auto_record"`
	RecordingEnabled *bool   `json:"recording_enabled"`
	KeepCallsSpeaker *bool   `json:"keep_calls_speaker"`
}

func (s *Server) currentSettings() settingsResponse {
	rc := s.redial.Config()
	ic := s.incall.Settings()
	return settingsResponse{
		AutoRedial:       rc.Enabled,
		RedialMaxRetries: rc.MaxRetries,
		RedialDelay:      rc.Delay.String(),
		AutoRecord:       string(ic.AutoRecord),
		RecordingEnabled: ic.RecordingEnabled,
		KeepCallsSpeaker: ic.KeepCallsSpeaker,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentSettings())
}

// handleUpdateSettings validates every supplied field, persists the changes
// and applies them to the running components.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	changes := make(map[string]string)
	if req.AutoRedial != nil {
		changes[keyAutoRedial] = strconv.FormatBool(*req.AutoRedial)
	}
	if req.RedialMaxRetries != nil {
		if msg := validateIntRange("redial_max_retries", req.RedialMaxRetries, 0, maxRedialRetries); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		changes[keyRedialMaxRetries] = strconv.Itoa(*req.RedialMaxRetries)
	}
	if req.RedialDelay != nil {
		d, err := parseRedialDelay(*req.RedialDelay)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		changes[keyRedialDelay] = d.String()
	}
	if req.AutoRecord != nil {
		if _, err := incall.ParseAutoRecordRule(*req.AutoRecord); err != nil {
			writeError(w, http.StatusBadRequest, "auto_record must be one of none, all, unknown, known")
			return
		}
		changes[keyAutoRecord] = *req.AutoRecord
	}
	if req.RecordingEnabled != nil {
		changes[keyRecordingEnabled] = strconv.FormatBool(*req.RecordingEnabled)
	}
	if req.KeepCallsSpeaker != nil {
		changes[keyKeepCallsSpeaker] = strconv.FormatBool(*req.KeepCallsSpeaker)
	}

	if s.settings != nil {
		for k, v := range changes {
			if err := s.settings.Set(r.Context(), k, v); err != nil {
				s.logger.Error("update settings: failed to persist", "key", k, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}
	}

	for k, v := range changes {
		if err := s.applySetting(k, v); err != nil {
			// Values were validated above.
			s.logger.Error("update settings: failed to apply", "key", k, "error", err)
		}
	}
	if len(changes) > 0 {
		s.logger.Info("settings updated", "keys", len(changes))
	}

	writeJSON(w, http.StatusOK, s.currentSettings())
}

// RestoreSettings applies settings persisted by earlier PUT /settings calls
// on top of the startup configuration. Invalid stored values are skipped.
func (s *Server) RestoreSettings(ctx context.Context) error {
	if s.settings == nil {
		return nil
	}
	all, err := s.settings.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted settings: %w", err)
	}
	for _, st := range all {
		if err := s.applySetting(st.Key, st.Value); err != nil {
			s.logger.Warn("ignoring persisted setting", "key", st.Key, "error", err)
			continue
		}
		s.logger.Debug("persisted setting applied", "key", st.Key, "value", st.Value)
	}
	return nil
}

// applySetting pushes one key/value pair into the running components.
func (s *Server) applySetting(key, value string) error {
	switch key {
	case keyAutoRedial, keyRedialMaxRetries, keyRedialDelay:
		cfg := s.redial.Config()
		switch key {
		case keyAutoRedial:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			cfg.Enabled = b
		case keyRedialMaxRetries:
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			if n < 0 || n > maxRedialRetries {
				return fmt.Errorf("redial_max_retries out of range: %d", n)
			}
			cfg.MaxRetries = n
		case keyRedialDelay:
			d, err := parseRedialDelay(value)
			if err != nil {
				return err
			}
			cfg.Delay = d
		}
		s.redial.SetConfig(cfg)
	case keyAutoRecord:
		rule, err := incall.ParseAutoRecordRule(value)
		if err != nil {
			return err
		}
		s.incall.SetAutoRecord(rule)
	case keyRecordingEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		s.incall.SetRecordingEnabled(b)
	case keyKeepCallsSpeaker:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		s.incall.SetKeepCallsSpeaker(b)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func parseRedialDelay(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("redial_delay must be a duration such as \"5s\"")
	}
	if d < minRedialDelay || d > maxRedialDelay {
		return 0, fmt.Errorf("redial_delay must be between %s and %s", minRedialDelay, maxRedialDelay)
	}
	return d, nil
}
