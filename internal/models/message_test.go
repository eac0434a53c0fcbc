package models

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"plain text", "hello", nil},
		{"empty", "", ErrEmptyContent},
		{"whitespace only", " \t\r\n ", ErrEmptyContent},
		{"at the cap", strings.Repeat("a", MaxContentLength), nil},
		{"one over the cap", strings.Repeat("a", MaxContentLength+1), ErrContentTooLong},
		{"unicode", "héllo 世界 🚀", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateContent(tt.content); !errors.Is(err, tt.want) {
				t.Fatalf("ValidateContent(%q) = %v, want %v", tt.content, err, tt.want)
			}
		})
	}
}

func TestValidateContentCountsBytesNotRunes(t *testing.T) {
	// 1667 three-byte runes are 5001 bytes: over the cap even though the
	// rune count is well under it.
	content := strings.Repeat("界", MaxContentLength/3+1)
	if err := ValidateContent(content); !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong for %d bytes, got %v", len(content), err)
	}
}
