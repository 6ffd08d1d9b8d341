package stopword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_MatchesWholeWordOnly(t *testing.T) {
	m := NewMatcher([]string{"computer"})

	word, ok := m.Match("hey computer, what's the time?")
	assert.True(t, ok)
	assert.Equal(t, "computer", word)

	_, ok = m.Match("the supercomputer is fast")
	assert.False(t, ok)
}

func TestMatcher_MatchesMultiWordPhrase(t *testing.T) {
	m := NewMatcher([]string{"ok computer"})

	_, ok := m.Match("OK COMPUTER, stop.")
	assert.True(t, ok)

	_, ok = m.Match("computer ok")
	assert.False(t, ok)
}

func TestMatcher_TrailingPunctuationTolerated(t *testing.T) {
	m := NewMatcher([]string{"stop"})

	word, ok := m.Match("please stop!")
	assert.True(t, ok)
	assert.Equal(t, "stop", word)
}

func TestMatcher_NoMatch(t *testing.T) {
	m := NewMatcher([]string{"computer"})
	_, ok := m.Match("nothing relevant here")
	assert.False(t, ok)
}

func TestMatcher_ReturnsFirstConfiguredPhrase(t *testing.T) {
	m := NewMatcher([]string{"alpha", "computer"})
	word, ok := m.Match("hey computer")
	assert.True(t, ok)
	assert.Equal(t, "computer", word)
}
