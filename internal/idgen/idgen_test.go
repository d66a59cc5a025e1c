package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskID(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		sourceID string
		expect   string
	}{
		{name: "plain", source: "gmail", sourceID: "18c2f", expect: "gmail-18c2f"},
		{name: "sanitized", source: "gmail", sourceID: "<a@b>/x", expect: "gmail-_a_b__x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, TaskID(tc.source, tc.sourceID))
		})
	}

	t.Run("generated", func(t *testing.T) {
		prev := NewFunc
		defer func() { NewFunc = prev }()
		NewFunc = func() string { return "fixed" }
		assert.Equal(t, "whatsapp-fixed", TaskID("whatsapp", ""))
		assert.True(t, strings.HasPrefix(Correlation(), "corr-"))
	})
}
