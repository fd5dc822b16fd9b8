package incall

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// AutoRecordRule selects which calls start recording automatically when they
// become active.
type AutoRecordRule string

const (
	AutoRecordNone    AutoRecordRule = "none"
	AutoRecordAll     AutoRecordRule = "all"
	AutoRecordUnknown AutoRecordRule = "unknown" // numbers not in the contact directory
	AutoRecordKnown   AutoRecordRule = "known"   // numbers in the contact directory
)

// ParseAutoRecordRule parses a rule name.
func ParseAutoRecordRule(s string) (AutoRecordRule, error) {
	switch r := AutoRecordRule(s); r {
	case AutoRecordNone, AutoRecordAll, AutoRecordUnknown, AutoRecordKnown:
		return r, nil
	}
	return "", fmt.Errorf("unknown auto-record rule %q", s)
}

// ContactDirectory answers whether a phone number belongs to a known contact.
type ContactDirectory interface {
	IsKnown(ctx context.Context, number string) bool
}

// shouldRecord applies rule to number. Without a directory every number is
// treated as unknown.
func shouldRecord(ctx context.Context, rule AutoRecordRule, dir ContactDirectory, number string) bool {
	switch rule {
	case AutoRecordAll:
		return true
	case AutoRecordUnknown, AutoRecordKnown:
		known := dir != nil && number != "" && dir.IsKnown(ctx, number)
		return known == (rule == AutoRecordKnown)
	default:
		return false
	}
}

// NumberSet is an in-memory ContactDirectory.
type NumberSet struct {
	mu      sync.RWMutex
	numbers map[string]struct{}
}

// NewNumberSet creates a directory holding numbers.
func NewNumberSet(numbers ...string) *NumberSet {
	s := &NumberSet{numbers: make(map[string]struct{}, len(numbers))}
	for _, n := range numbers {
		s.Add(n)
	}
	return s
}

// LoadContacts reads a JSON array of phone numbers from path.
func LoadContacts(path string) (*NumberSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contacts file: %w", err)
	}
	var numbers []string
	if err := json.Unmarshal(data, &numbers); err != nil {
		return nil, fmt.Errorf("parsing contacts file %s: %w", path, err)
	}
	return NewNumberSet(numbers...), nil
}

// Add inserts a number.
func (s *NumberSet) Add(number string) {
	key := normalizeNumber(number)
	if key == "" {
		return
	}
	s.mu.Lock()
	s.numbers[key] = struct{}{}
	s.mu.Unlock()
}

// Len returns the number of distinct numbers held.
func (s *NumberSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.numbers)
}

// IsKnown implements ContactDirectory.
func (s *NumberSet) IsKnown(_ context.Context, number string) bool {
	key := normalizeNumber(number)
	if key == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.numbers[key]
	return ok
}

// normalizeNumber keeps only the dialable digits so that formatting
// differences ("+1 555-0100" vs "15550100") compare equal.
func normalizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
