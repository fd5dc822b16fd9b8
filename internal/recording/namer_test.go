package recording

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode"
)

var namerTime = time.Date(2025, 3, 15, 10, 30, 5, 0, time.UTC)

func TestBuildName(t *testing.T) {
	info := NameInfo{
		Time:        namerTime,
		Direction:   "incoming",
		PhoneNumber: "+1 555-0100",
		CallerName:  "Jane Doe",
		SIMSlot:     2,
	}

	tests := []struct {
		name string
		tmpl string
		info NameInfo
		want string
	}{
		{"default template", "", info, "20250315_103005_incoming_+1_555-0100"},
		{"all placeholders", "{caller_name}-{sim_slot}-{timestamp}", info, "Jane_Doe-sim2-1742034605"},
		{"missing caller name collapses", "{date}__{caller_name}__{direction}", NameInfo{Time: namerTime, Direction: "outgoing"}, "20250315_outgoing"},
		{"leading and trailing separators trimmed", "_-{caller_name}-{phone_number}-_", NameInfo{Time: namerTime, PhoneNumber: "100"}, "100"},
		{"unknown placeholder kept", "{date}_{carrier}", info, "20250315_{carrier}"},
		{"unsafe characters removed", "a/b\\c:d*e?f\"g<h>i|j", info, "abcdefghij"},
		{"unicode letters kept", "{caller_name}", NameInfo{Time: namerTime, CallerName: "홍길동"}, "홍길동"},
		{"empty falls back", "{caller_name}", NameInfo{Time: namerTime}, "call_20250315_103005"},
		{"only separators falls back", "--__--", NameInfo{Time: namerTime}, "call_20250315_103005"},
		{"unterminated brace", "{date", info, "{date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildName(tt.tmpl, tt.info); got != tt.want {
				t.Errorf("BuildName(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestBuildNameDeterministicAndSafe(t *testing.T) {
	info := NameInfo{Time: namerTime, Direction: "outgoing", PhoneNumber: "*#06#;rm -rf /", CallerName: "A\x00B\tC"}
	first := BuildName("{phone_number}_{caller_name}", info)
	for i := 0; i < 10; i++ {
		if got := BuildName("{phone_number}_{caller_name}", info); got != first {
			t.Fatalf("run %d: %q != %q", i, got, first)
		}
	}
	if first == "" {
		t.Fatal("empty name")
	}
	for _, r := range first {
		if !isSafeRune(r) {
			t.Errorf("unsafe rune %q in %q", r, first)
		}
	}
	if strings.ContainsAny(first, "/\\\x00") {
		t.Errorf("name %q contains path characters", first)
	}
}

func TestBuildNameLengthCap(t *testing.T) {
	info := NameInfo{Time: namerTime, CallerName: strings.Repeat("가", 300)}
	got := BuildName("{caller_name}", info)
	if n := len([]rune(got)); n != maxNameRunes {
		t.Errorf("name length = %d runes, want %d", n, maxNameRunes)
	}
	for _, r := range got {
		if !unicode.IsLetter(r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
}

func TestUniquePath(t *testing.T) {
	taken := map[string]bool{}
	exists := func(p string) bool { return taken[p] }

	got := UniquePath("/rec", "call", "wav", exists, namerTime)
	if got != filepath.Join("/rec", "call.wav") {
		t.Errorf("free path = %q", got)
	}

	taken[filepath.Join("/rec", "call.wav")] = true
	taken[filepath.Join("/rec", "call_1.wav")] = true
	got = UniquePath("/rec", "call", "wav", exists, namerTime)
	if got != filepath.Join("/rec", "call_2.wav") {
		t.Errorf("collision path = %q, want call_2.wav", got)
	}
}

func TestUniquePathExhausted(t *testing.T) {
	always := func(string) bool { return true }
	got := UniquePath("/rec", "call", "wav", always, namerTime)
	want := filepath.Join("/rec", "call_1742034605000000000.wav")
	if got != want {
		t.Errorf("exhausted path = %q, want %q", got, want)
	}
}

func TestLocationDir(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
		want string
	}{
		{"default", Location{DataDir: "/data", Mode: SaveDefault}, "/data/recordings"},
		{"dated", Location{DataDir: "/data", Mode: SaveDated}, "/data/recordings/2025/03/15"},
		{"custom", Location{DataDir: "/data", Mode: SaveCustom, CustomPath: "/sdcard/calls"}, "/sdcard/calls"},
		{"custom without path", Location{DataDir: "/data", Mode: SaveCustom}, "/data/recordings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.Dir(namerTime); got != tt.want {
				t.Errorf("Dir = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocationPathAvoidsExistingFile(t *testing.T) {
	dir := t.TempDir()
	loc := Location{Mode: SaveCustom, CustomPath: dir, Template: "{phone_number}"}
	info := NameInfo{Time: namerTime, PhoneNumber: "100"}

	first := loc.Path(info)
	if first != filepath.Join(dir, "100.wav") {
		t.Fatalf("first = %q", first)
	}
	enc, err := NewEncoder(FormatWAV, first, 8000)
	if err != nil {
		t.Fatal(err)
	}
	enc.Finalize()
	enc.Close()

	if second := loc.Path(info); second != filepath.Join(dir, "100_1.wav") {
		t.Errorf("second = %q, want 100_1.wav", second)
	}
}

func TestSidecarPath(t *testing.T) {
	tests := map[string]string{
		"/rec/call.wav":     "/rec/call.json",
		"/rec.d/call":       "/rec.d/call.json",
		"/rec/call.1.wav":   "/rec/call.1.json",
		"relative/file.wav": "relative/file.json",
	}
	for in, want := range tests {
		if got := SidecarPath(in); got != want {
			t.Errorf("SidecarPath(%q) = %q, want %q", in, got, want)
		}
	}
}
