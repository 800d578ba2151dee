package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxReviewNotesRunes bounds the free-text notes a reviewer may attach.
const MaxReviewNotesRunes = 2000

// NormalizeReviewNotes trims notes and validates length and content.
// Newlines and tabs are allowed; other control characters are not.
func NormalizeReviewNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if !utf8.ValidString(notes) {
		return "", fmt.Errorf("notes must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(notes); n > MaxReviewNotesRunes {
		return "", fmt.Errorf("notes must be at most %d characters, got %d", MaxReviewNotesRunes, n)
	}
	for _, r := range notes {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return "", fmt.Errorf("notes cannot contain control characters")
		}
	}
	return notes, nil
}
