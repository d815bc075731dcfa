package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    "   \t  ",
			expected: "",
		},
		{
			name:     "already canonical",
			input:    "JONAS BASANAVICIUS",
			expected: "JONAS BASANAVICIUS",
		},
		{
			name:     "lowercase with padding",
			input:    "  jonas basanavicius ",
			expected: "JONAS BASANAVICIUS",
		},
		{
			name:     "internal whitespace runs collapse",
			input:    "jonas\t\t basanavicius",
			expected: "JONAS BASANAVICIUS",
		},
		{
			name:     "diacritics survive uppercasing",
			input:    "jonas basanavičius",
			expected: "JONAS BASANAVIČIUS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FullName(tt.input))
		})
	}
}

func TestFullName_NFCStability(t *testing.T) {
	// "č" as a precomposed rune vs "c" + combining caron must hash the same,
	// so they must normalize the same.
	precomposed := "basanavičius"
	decomposed := "basanavičius"
	assert.Equal(t, FullName(precomposed), FullName(decomposed))
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "digits with internal spaces",
			input:    " 3901\t0112 345 ",
			expected: "39010112345",
		},
		{
			name:     "separators preserved",
			input:    "id-39/0101",
			expected: "ID-39/0101",
		},
		{
			name:     "lowercase letters uppercased",
			input:    "ab123cd",
			expected: "AB123CD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Identifier(tt.input))
		})
	}
}
