package unicodecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckLabel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty string", "", nil},
		{"normal text", "Fractions, period 3", nil},
		{"CJK characters", "\u4E16\u754C", nil},
		{"emoji", "Geometry \U0001F4D0", nil},
		{"accented characters", "caf\u00E9", nil},
		{"decomposed accent", "cafe\u0301", nil},
		{"zero width space", "hello\u200Bworld", ErrZeroWidth},
		{"byte order mark", "\uFEFFlesson", ErrZeroWidth},
		{"hangul filler", "\u3164", ErrZeroWidth},
		{"RTL override", "lesson\u202Etxt.exe", ErrBidiOverride},
		{"LTR isolate", "a\u2066b", ErrBidiOverride},
		{"newline", "line1\nline2", ErrControl},
		{"escape", "red\x1b[31m", ErrControl},
		{"private use", "a\uE000b", ErrPrivateUse},
		{"non-character", "a\uFDD0b", ErrPrivateUse},
		{"three combining marks", "a\u0301\u0302\u0303", nil},
		{"zalgo", "a\u0301\u0302\u0303\u0304", ErrCombiningMarks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLabel(tt.input)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "caf\u00E9", NormalizeLabel("  cafe\u0301 "))
	assert.Equal(t, "", NormalizeLabel(" \t "))
}

func TestSanitizeForLogging(t *testing.T) {
	assert.Equal(t, "a[CTRL]b[ZW]c", SanitizeForLogging("a\nb\u200Bc"))
	assert.Equal(t, "plain", SanitizeForLogging("plain"))
}
