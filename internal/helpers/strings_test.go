package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCString(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"nul terminated", []byte{'b', 'o', 'o', 't', 0, 'x'}, "boot"},
		{"no terminator", []byte("system"), "system"},
		{"empty", []byte{0, 0, 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CString(tt.input))
		})
	}
}

func TestUTF16RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		size     int
		expected string
	}{
		{"ascii", "userdata", 72, "userdata"},
		{"non ascii", "données", 72, "données"},
		{"truncated", "abcdef", 6, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeUTF16LE(tt.input, tt.size)
			assert.Len(t, encoded, tt.size)
			assert.Equal(t, tt.expected, DecodeUTF16LE(encoded))
		})
	}
}

func TestIsFilled(t *testing.T) {
	assert.True(t, IsFilled([]byte{0xFF, 0xFF}, 0xFF))
	assert.False(t, IsFilled([]byte{0xFF, 0x00}, 0xFF))
	assert.True(t, IsFilled(nil, 0x00))
}
