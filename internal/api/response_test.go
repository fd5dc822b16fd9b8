package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"call_id": "c1"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if body := w.Body.String(); strings.Contains(body, `"error"`) {
		t.Errorf("error field not omitted: %s", body)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["call_id"] != "c1" {
		t.Errorf("data = %v", env.Data)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusConflict, "call already exists")

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if w.Code != http.StatusConflict || env.Error != "call already exists" || env.Data != nil {
		t.Errorf("got %d %+v", w.Code, env)
	}
}

func TestReadJSON(t *testing.T) {
	type target struct {
		ID      string `json:"id"`
		SIMSlot int    `json:"sim_slot"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string // prefix; empty means success
	}{
		{"ok", `{"id":"c1","sim_slot":2}`, ""},
		{"empty", ``, "request body must not be empty"},
		{"malformed", `{bad`, "malformed json"},
		{"truncated", `{"id":`, "malformed json"},
		{"wrong type", `{"sim_slot":"two"}`, "invalid value for field sim_slot"},
		{"unknown field", `{"id":"c1","extra":1}`, "unknown field"},
		{"two objects", `{"id":"a"}{"id":"b"}`, "request body must contain a single json object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst target
			got := readJSON(r, &dst)
			if tt.wantErr == "" {
				if got != "" {
					t.Fatalf("unexpected error %q", got)
				}
				if dst.ID != "c1" || dst.SIMSlot != 2 {
					t.Errorf("decoded %+v", dst)
				}
				return
			}
			if !strings.HasPrefix(got, tt.wantErr) {
				t.Errorf("error = %q, want prefix %q", got, tt.wantErr)
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    string
	}{
		{"", defaultLimit, 0, ""},
		{"limit=10&offset=20", 10, 20, ""},
		{"limit=5000", maxLimit, 0, ""},
		{"offset=0", defaultLimit, 0, ""},
		{"limit=abc", 0, 0, "limit must be a positive integer"},
		{"limit=0", 0, 0, "limit must be a positive integer"},
		{"limit=-5", 0, 0, "limit must be a positive integer"},
		{"offset=x", 0, 0, "offset must be a non-negative integer"},
		{"offset=-1", 0, 0, "offset must be a non-negative integer"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p, errMsg := parsePagination(httptest.NewRequest(http.MethodGet, "/recordings?"+tt.query, nil))
			if errMsg != tt.wantErr {
				t.Fatalf("error = %q, want %q", errMsg, tt.wantErr)
			}
			if tt.wantErr == "" && (p.Limit != tt.wantLimit || p.Offset != tt.wantOffset) {
				t.Errorf("got %+v, want limit %d offset %d", p, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}
