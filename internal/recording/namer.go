package recording

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// DefaultFilenameTemplate is used when no template is configured.
	DefaultFilenameTemplate = "{date}_{time}_{direction}_{phone_number}"

	maxNameRunes      = 100
	maxCollisionTries = 999
)

// NameInfo carries the call details available to filename templates.
type NameInfo struct {
	Time        time.Time
	Direction   string
	PhoneNumber string
	CallerName  string
	SIMSlot     int // 0 when unknown
}

// placeholders maps each template placeholder to its value source.
var placeholders = map[string]func(NameInfo) string{
	"date":      func(n NameInfo) string { return n.Time.Format("20060102") },
	"time":      func(n NameInfo) string { return n.Time.Format("150405") },
	"timestamp": func(n NameInfo) string { return strconv.FormatInt(n.Time.Unix(), 10) },
	"direction": func(n NameInfo) string { return n.Direction },
	"phone_number": func(n NameInfo) string {
		return n.PhoneNumber
	},
	"caller_name": func(n NameInfo) string { return n.CallerName },
	"sim_slot": func(n NameInfo) string {
		if n.SIMSlot <= 0 {
			return ""
		}
		return "sim" + strconv.Itoa(n.SIMSlot)
	},
}

// expandTemplate substitutes known placeholders. Unknown placeholders and
// unbalanced braces are copied through unchanged.
func expandTemplate(tmpl string, info NameInfo) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			b.WriteString(tmpl)
			break
		}
		end += open

		b.WriteString(tmpl[:open])
		key := tmpl[open+1 : end]
		if fn, ok := placeholders[key]; ok {
			b.WriteString(fn(info))
		} else {
			b.WriteString(tmpl[open : end+1])
		}
		tmpl = tmpl[end+1:]
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-'
}

// isSafeRune reports whether r may appear in a generated file name.
func isSafeRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '_', '-', '+', '.', '(', ')', '{', '}':
		return true
	}
	return false
}

// sanitizeName turns whitespace into underscores, drops unsafe characters,
// collapses separator runs, trims separators and dots at either end and
// caps the length.
func sanitizeName(s string) string {
	var b strings.Builder
	var prevSep bool
	for _, r := range s {
		if unicode.IsSpace(r) {
			r = '_'
		}
		if !isSafeRune(r) {
			continue
		}
		if isSeparator(r) {
			if prevSep {
				continue
			}
			prevSep = true
		} else {
			prevSep = false
		}
		b.WriteRune(r)
	}

	trim := func(r rune) bool { return isSeparator(r) || r == '.' }
	out := strings.TrimFunc(b.String(), trim)

	if runes := []rune(out); len(runes) > maxNameRunes {
		out = strings.TrimRightFunc(string(runes[:maxNameRunes]), trim)
	}
	return out
}

// fallbackName is used when a template produces nothing usable.
func fallbackName(t time.Time) string {
	return "call_" + t.Format("20060102_150405")
}

// BuildName expands a filename template and normalizes the result into a
// safe base name without extension. It is deterministic for fixed inputs
// and never returns an empty string.
func BuildName(tmpl string, info NameInfo) string {
	if tmpl == "" {
		tmpl = DefaultFilenameTemplate
	}
	name := sanitizeName(expandTemplate(tmpl, info))
	if name == "" {
		name = fallbackName(info.Time)
	}
	return name
}

// UniquePath joins dir, name and ext, adding a numeric suffix while exists
// reports the path as taken. After maxCollisionTries suffixes it falls back
// to a name salted with the nanosecond timestamp.
func UniquePath(dir, name, ext string, exists func(path string) bool, now time.Time) string {
	candidate := filepath.Join(dir, name+"."+ext)
	if !exists(candidate) {
		return candidate
	}
	for i := 1; i <= maxCollisionTries; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d.%s", name, i, ext))
		if !exists(candidate) {
			return candidate
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d.%s", name, now.UnixNano(), ext))
}
