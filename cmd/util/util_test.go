package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapString(t *testing.T) {
	wrapped := WrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "", WrapString("   "))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 3.0, ParseValue("3"))
	assert.Equal(t, true, ParseValue("true"))
	assert.Equal(t, map[string]any{"x": 1.0}, ParseValue(`{"x": 1}`))
	assert.Equal(t, "alice", ParseValue("alice"))
	assert.Nil(t, ParseValue("null"))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "{\n  \"x\": 1\n}", FormatValue(map[string]any{"x": 1}))
	assert.Equal(t, "null", FormatValue(nil))
}
