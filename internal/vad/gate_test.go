package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedScorer returns a canned speech duration for every window, letting
// tests drive the Gate's state machine deterministically without a real
// model.
type fixedScorer struct {
	durations []time.Duration
	calls     int
}

func (f *fixedScorer) Score(_ []int16, _ Options) (time.Duration, error) {
	d := f.durations[f.calls%len(f.durations)]
	f.calls++
	return d, nil
}
func (f *fixedScorer) Close() error { return nil }

func testConfig() Config {
	return Config{
		AudioChunkDuration:   100 * time.Millisecond, // 1600 samples @16kHz
		StartedTalkingThresh: 200 * time.Millisecond,
		SpeechThresh:         100 * time.Millisecond,
		Options:              DefaultOptions(),
	}
}

func window() []int16 {
	return make([]int16, 1600)
}

func TestGate_IdleStaysIdleBelowThreshold(t *testing.T) {
	scorer := &fixedScorer{durations: []time.Duration{50 * time.Millisecond}}
	g := NewGate(scorer, testConfig())

	results, err := g.Push(window())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Continuing, results[0].Event)
	assert.False(t, g.Speaking())
}

func TestGate_StaysIdleExactlyAtThreshold(t *testing.T) {
	scorer := &fixedScorer{durations: []time.Duration{200 * time.Millisecond}}
	g := NewGate(scorer, testConfig())

	results, err := g.Push(window())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Continuing, results[0].Event)
	assert.False(t, g.Speaking())
}

func TestGate_StartsTalkingAboveThreshold(t *testing.T) {
	scorer := &fixedScorer{durations: []time.Duration{201 * time.Millisecond}}
	g := NewGate(scorer, testConfig())

	results, err := g.Push(window())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StartedTalking, results[0].Event)
	assert.True(t, g.Speaking())
}

func TestGate_PausesAtOrBelowThreshold(t *testing.T) {
	scorer := &fixedScorer{durations: []time.Duration{
		300 * time.Millisecond, // starts talking
		100 * time.Millisecond, // pauses (tie-break: triggering)
	}}
	g := NewGate(scorer, testConfig())

	results, err := g.Push(window())
	require.NoError(t, err)
	results2, err := g.Push(window())
	require.NoError(t, err)

	assert.Equal(t, StartedTalking, results[0].Event)
	assert.Equal(t, Paused, results2[0].Event)
	assert.NotEmpty(t, results2[0].Utterance)
	assert.False(t, g.Speaking())
}

func TestGate_ContinuingBetweenStartAndPause(t *testing.T) {
	scorer := &fixedScorer{durations: []time.Duration{
		300 * time.Millisecond,
		150 * time.Millisecond, // above speech_threshold(100ms) -> continuing
		50 * time.Millisecond,  // now pauses
	}}
	g := NewGate(scorer, testConfig())

	r1, _ := g.Push(window())
	r2, _ := g.Push(window())
	r3, _ := g.Push(window())

	assert.Equal(t, StartedTalking, r1[0].Event)
	assert.Equal(t, Continuing, r2[0].Event)
	assert.Equal(t, Paused, r3[0].Event)
	// Utterance should span all three windows' worth of samples.
	assert.Equal(t, 1600*3, len(r3[0].Utterance))
}

func TestGate_ResetClearsState(t *testing.T) {
	scorer := &fixedScorer{durations: []time.Duration{300 * time.Millisecond}}
	g := NewGate(scorer, testConfig())
	g.Push(window())
	require.True(t, g.Speaking())

	g.Reset()
	assert.False(t, g.Speaking())
}

func TestGate_BuffersPartialWindow(t *testing.T) {
	scorer := &fixedScorer{durations: []time.Duration{300 * time.Millisecond}}
	g := NewGate(scorer, testConfig())

	results, err := g.Push(make([]int16, 800)) // half a window
	require.NoError(t, err)
	assert.Empty(t, results, "no decision until a full window has accumulated")
}
