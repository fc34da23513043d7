// Package unicodecheck rejects display labels that would render misleadingly
// on other participants' screens: invisible characters, direction overrides,
// control characters and stacked combining marks.
package unicodecheck

import (
	"errors"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxConsecutiveCombining is the longest run of combining marks a label may carry.
const MaxConsecutiveCombining = 3

var (
	ErrZeroWidth      = errors.New("contains zero-width characters")
	ErrBidiOverride   = errors.New("contains bidirectional overrides")
	ErrControl        = errors.New("contains control characters")
	ErrPrivateUse     = errors.New("contains private-use or non-character code points")
	ErrCombiningMarks = errors.New("contains excessive combining marks")
)

// Zero-width characters commonly used in spoofing attacks.
var zeroWidthChars = []rune{
	'\u200B', // Zero Width Space
	'\u200C', // Zero Width Non-Joiner
	'\u200D', // Zero Width Joiner
	'\u200E', // Left-to-Right Mark
	'\u200F', // Right-to-Left Mark
	'\uFEFF', // Byte Order Mark
	'\u3164', // Hangul Filler
	'\uFFA0', // Halfwidth Hangul Filler
}

// Bidirectional text override characters that can reorder displayed text.
var bidiOverrideChars = []rune{
	'\u202A', '\u202B', '\u202C', '\u202D', '\u202E',
	'\u2066', '\u2067', '\u2068', '\u2069',
}

// CheckLabel reports the first problem found in a single-line label.
func CheckLabel(s string) error {
	run := 0
	for _, r := range s {
		switch {
		case slices.Contains(zeroWidthChars, r):
			return ErrZeroWidth
		case slices.Contains(bidiOverrideChars, r):
			return ErrBidiOverride
		case unicode.IsControl(r):
			return ErrControl
		case isNonCharacter(r):
			return ErrPrivateUse
		}
		if unicode.Is(unicode.Mn, r) {
			run++
			if run > MaxConsecutiveCombining {
				return ErrCombiningMarks
			}
			continue
		}
		run = 0
	}
	return nil
}

// NormalizeLabel trims surrounding space and returns the NFC form, so that
// visually identical names compare and store the same way.
func NormalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func isNonCharacter(r rune) bool {
	return unicode.Is(unicode.Co, r) ||
		unicode.Is(unicode.Cs, r) ||
		(r >= 0xFDD0 && r <= 0xFDEF) ||
		r&0xFFFF == 0xFFFE || r&0xFFFF == 0xFFFF
}

// SanitizeForLogging replaces control and zero-width characters so that
// client-supplied strings cannot forge log lines.
func SanitizeForLogging(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
			b.WriteString("[CTRL]")
		case slices.Contains(zeroWidthChars, r):
			b.WriteString("[ZW]")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
