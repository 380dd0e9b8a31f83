package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringTime(t *testing.T) {
	tests := []struct {
		timeString string
		expected   time.Duration
	}{
		{"10s", 10 * time.Second},
		{"20M", 20 * time.Minute},
		{"48h", 48 * time.Hour},
		{"2d", 2 * time.Hour * 24},
		{"500ms", 500 * time.Millisecond},
		{" 2s ", 2 * time.Second},
		{"0", 0},
	}

	for _, test := range tests {
		result, err := ParseStringTime(test.timeString)
		require.NoError(t, err, test.timeString)
		assert.Equal(t, test.expected, result, test.timeString)
	}
}

func TestParseStringTimeInvalid(t *testing.T) {
	for _, s := range []string{"", "abc", "10x", "-5s", "1.5h", "s"} {
		_, err := ParseStringTime(s)
		assert.Error(t, err, s)
	}
}
