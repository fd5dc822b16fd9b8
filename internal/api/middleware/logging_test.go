package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureLogger(level slog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})), &buf
}

func TestStructuredLogger(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		handler   http.HandlerFunc
		status    int
		wantLevel string
	}{
		{
			name:   "implicit 200",
			method: http.MethodGet,
			path:   "/api/v1/state",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("ok"))
			},
			status:    http.StatusOK,
			wantLevel: "INFO",
		},
		{
			name:   "explicit 404",
			method: http.MethodPost,
			path:   "/api/v1/calls/x/events",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			status:    http.StatusNotFound,
			wantLevel: "INFO",
		},
		{
			name:   "first status wins",
			method: http.MethodPost,
			path:   "/api/v1/calls",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.WriteHeader(http.StatusInternalServerError)
			},
			status:    http.StatusCreated,
			wantLevel: "INFO",
		},
		{
			name:   "server error",
			method: http.MethodPost,
			path:   "/api/v1/recording/start",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			status:    http.StatusInternalServerError,
			wantLevel: "ERROR",
		},
		{
			name:   "health is quiet",
			method: http.MethodGet,
			path:   "/api/v1/health",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			status:    http.StatusOK,
			wantLevel: "DEBUG",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captureLogger(slog.LevelDebug)
			h := StructuredLogger(logger)(tt.handler)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			h.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("parsing log output %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["method"] != tt.method {
				t.Errorf("method = %v, want %s", entry["method"], tt.method)
			}
			if entry["path"] != tt.path {
				t.Errorf("path = %v, want %s", entry["path"], tt.path)
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("duration_ms missing")
			}
		})
	}
}

func TestStructuredLoggerHealthHiddenAtInfo(t *testing.T) {
	logger, buf := captureLogger(slog.LevelInfo)
	h := StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

func TestStatusRecorderDefaultsTo200(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	if rec.status != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.status)
	}
	rec.WriteHeader(http.StatusAccepted)
	if rec.status != http.StatusAccepted || !rec.wroteHeader {
		t.Errorf("status = %d wrote = %v", rec.status, rec.wroteHeader)
	}
}
