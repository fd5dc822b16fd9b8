package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecovererPanicReturns500(t *testing.T) {
	logger, buf := captureLogger(slog.LevelInfo)
	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("capture goroutine exploded")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recording/start", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp["error"] != "internal server error" {
		t.Errorf("error = %v", resp["error"])
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing log output: %v", err)
	}
	if entry["msg"] != "panic recovered" || entry["panic"] != "capture goroutine exploded" {
		t.Errorf("log entry = %v", entry)
	}
	if entry["method"] != "POST" || entry["path"] != "/api/v1/recording/start" {
		t.Errorf("log entry = %v", entry)
	}
	if stack, _ := entry["stack"].(string); stack == "" {
		t.Error("stack missing from log entry")
	}
}

func TestRecovererPassesThrough(t *testing.T) {
	logger, buf := captureLogger(slog.LevelInfo)
	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	logger, _ := captureLogger(slog.LevelInfo)
	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
