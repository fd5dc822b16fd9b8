package api

import (
	"regexp"
	"strconv"
	"unicode/utf8"
)

// maxCallIDLen bounds platform call identifiers.
const maxCallIDLen = 128

// maxNameLen bounds caller names and account handles.
const maxNameLen = 200

// maxNumberLen bounds dialable numbers.
const maxNumberLen = 64

// numberRe accepts dialable strings: digits, a leading +, DTMF symbols and
// common visual separators.
var numberRe = regexp.MustCompile(`^\+?[0-9*#,;()\-. ]*$`)

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return validateNoControlChars(field, value)
}

// validateRequiredStringLen is validateStringLen for mandatory fields.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validatePhoneNumber checks an optional dialable number.
func validatePhoneNumber(field, value string) string {
	if len(value) > maxNumberLen {
		return field + " exceeds maximum length"
	}
	if !numberRe.MatchString(value) {
		return field + " is not a valid phone number"
	}
	return ""
}

// validateIntRange checks that an optional int pointer is within [lo, hi].
func validateIntRange(field string, value *int, lo, hi int) string {
	if value == nil {
		return ""
	}
	if *value < lo || *value > hi {
		return field + " must be between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi)
	}
	return ""
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	for _, r := range value {
		if r < 32 || r == 127 {
			return field + " contains invalid characters"
		}
	}
	return ""
}

// firstError returns the first non-empty validation message.
func firstError(msgs ...string) string {
	for _, m := range msgs {
		if m != "" {
			return m
		}
	}
	return ""
}
