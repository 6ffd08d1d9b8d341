package stopword

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediastream/internal/vad"
)

// scriptedTranscriber returns one canned transcript per call, cycling.
type scriptedTranscriber struct {
	transcripts []string
	calls       int
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, _ []int16, _ int) (string, error) {
	t := s.transcripts[s.calls%len(s.transcripts)]
	s.calls++
	return t, nil
}
func (s *scriptedTranscriber) Close() error { return nil }

// scriptedScorer returns one canned speech duration per call, cycling.
type scriptedScorer struct {
	durations []time.Duration
	calls     int
}

func (s *scriptedScorer) Score(_ []int16, _ vad.Options) (time.Duration, error) {
	d := s.durations[s.calls%len(s.durations)]
	s.calls++
	return d, nil
}
func (s *scriptedScorer) Close() error { return nil }

func detectorConfig() Config {
	return Config{
		AudioChunkDuration:   100 * time.Millisecond, // 1600 samples @16kHz
		WindowSeconds:        2.0,
		StartedTalkingThresh: 200 * time.Millisecond,
		SpeechThresh:         100 * time.Millisecond,
		VADOptions:           vad.DefaultOptions(),
	}
}

func chunk() []int16 { return make([]int16, 1600) }

func TestDetector_StaysPreDetectionWithoutStopword(t *testing.T) {
	tr := &scriptedTranscriber{transcripts: []string{"nothing to see here"}}
	sc := &scriptedScorer{durations: []time.Duration{0}}
	d := NewDetector(tr, NewMatcher([]string{"computer"}), sc, detectorConfig())

	results, err := d.Push(context.Background(), chunk())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Continuing, results[0].Event)
	assert.False(t, d.Detected())
}

func TestDetector_DetectsStopwordAndCarriesMatchedWord(t *testing.T) {
	tr := &scriptedTranscriber{transcripts: []string{"hey computer are you there"}}
	sc := &scriptedScorer{durations: []time.Duration{0}}
	d := NewDetector(tr, NewMatcher([]string{"computer"}), sc, detectorConfig())

	results, err := d.Push(context.Background(), chunk())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StopwordDetected, results[0].Event)
	assert.Equal(t, "computer", results[0].Word)
	assert.True(t, d.Detected())
}

func TestDetector_PostDetectionStartsAndPauses(t *testing.T) {
	tr := &scriptedTranscriber{transcripts: []string{"hey computer"}}
	sc := &scriptedScorer{durations: []time.Duration{
		300 * time.Millisecond, // starts talking (pre-detection does not score)
		50 * time.Millisecond,  // pauses
	}}
	d := NewDetector(tr, NewMatcher([]string{"computer"}), sc, detectorConfig())

	r1, err := d.Push(context.Background(), chunk())
	require.NoError(t, err)
	assert.Equal(t, StopwordDetected, r1[0].Event)

	r2, err := d.Push(context.Background(), chunk())
	require.NoError(t, err)
	assert.Equal(t, StartedTalking, r2[0].Event)
	assert.True(t, d.Speaking())

	r3, err := d.Push(context.Background(), chunk())
	require.NoError(t, err)
	assert.Equal(t, Paused, r3[0].Event)
	assert.NotEmpty(t, r3[0].Utterance)
	assert.False(t, d.Speaking())
}

func TestDetector_PreDetectionBufferCappedAtWindowSeconds(t *testing.T) {
	tr := &scriptedTranscriber{transcripts: []string{"nothing"}}
	sc := &scriptedScorer{durations: []time.Duration{0}}
	cfg := detectorConfig()
	cfg.WindowSeconds = 0.2 // 3200 samples @16kHz
	d := NewDetector(tr, NewMatcher([]string{"computer"}), sc, cfg)

	for i := 0; i < 5; i++ {
		_, err := d.Push(context.Background(), chunk())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(d.postBuffer), 3200)
}

func TestDetector_ResetClearsAllState(t *testing.T) {
	tr := &scriptedTranscriber{transcripts: []string{"hey computer"}}
	sc := &scriptedScorer{durations: []time.Duration{0, 300 * time.Millisecond}}
	d := NewDetector(tr, NewMatcher([]string{"computer"}), sc, detectorConfig())

	d.Push(context.Background(), chunk())
	d.Push(context.Background(), chunk())
	require.True(t, d.Detected())

	d.Reset()
	assert.False(t, d.Detected())
	assert.False(t, d.Speaking())
}
