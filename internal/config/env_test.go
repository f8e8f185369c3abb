// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	t.Setenv("TEST_STRING", "from-env")
	t.Setenv("TEST_STRING_EMPTY", "")

	assert.Equal(t, "from-env", ParseString("TEST_STRING", "default"))
	assert.Equal(t, "default", ParseString("TEST_STRING_EMPTY", "default"))
	assert.Equal(t, "default", ParseString("TEST_STRING_UNSET", "default"))
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"valid integer", "100", 100},
		{"invalid integer", "not-a-number", 42},
		{"empty string", "", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.value)
			assert.Equal(t, tt.want, ParseInt("TEST_INT", 42))
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "1m30s")
	t.Setenv("TEST_DURATION_BAD", "90")

	assert.Equal(t, 90*time.Second, ParseDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, ParseDuration("TEST_DURATION_BAD", time.Second))
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"YES", true},
		{"1", true},
		{"false", false},
		{"No", false},
		{"0", false},
		{"maybe", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, ParseBool("TEST_BOOL", true))
		})
	}
}
