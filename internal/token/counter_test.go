package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_Deterministic(t *testing.T) {
	c := NewCounter("gpt-4o-mini")
	a := c.Count("hello there, this is a test string")
	b := c.Count("hello there, this is a test string")
	assert.Equal(t, a, b)
	assert.Greater(t, a, 0)
}

func TestCounter_EmptyString(t *testing.T) {
	c := NewCounter("gpt-4o-mini")
	assert.Equal(t, 0, c.Count(""))
}

func TestCounter_UnknownModelOverCounts(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog repeatedly for padding."
	known := NewCounter("gpt-4o").Count(text)
	unknown := NewCounter("some-mystery-model-v7").Count(text)
	assert.GreaterOrEqual(t, unknown, known)
}

func TestCounter_CountMessages_IncludesOverhead(t *testing.T) {
	c := NewCounter("claude-opus")
	messages := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	}
	total := c.CountMessages(messages)
	bare := c.Count("be terse") + c.Count("hi")
	assert.Greater(t, total, bare)
}

func TestCount_PackageLevelConvenience(t *testing.T) {
	assert.Equal(t, NewCounter("gpt-4").Count("abcd"), Count("abcd", "gpt-4"))
}
