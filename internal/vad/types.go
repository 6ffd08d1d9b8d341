// Package vad implements the VAD Gate (C2): chunked speech-activity
// scoring over an inbound audio stream, emitting STARTED_TALKING /
// CONTINUING / PAUSED events per spec §4.2.
package vad

import "time"

// Options mirrors SileroVadOptions from the reference vad.py implementation
// field-for-field, so behaviour stays identical regardless of which Scorer
// backend is selected.
type Options struct {
	Threshold            float32
	MinSpeechDurationMs  int
	MaxSpeechDurationS   float64
	MinSilenceDurationMs int
	WindowSizeSamples    int
	SpeechPadMs          int
}

// DefaultOptions matches vad.py's SileroVadOptions defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:            0.5,
		MinSpeechDurationMs:  250,
		MaxSpeechDurationS:   0, // 0 == unbounded (Python's float("inf"))
		MinSilenceDurationMs: 2000,
		WindowSizeSamples:    1024,
		SpeechPadMs:          400,
	}
}

// SampleRate is the native rate every Scorer operates at, matching
// vad.py's hardcoded 16kHz processing rate.
const SampleRate = 16000

// Scorer estimates the total speech duration detected within a window of
// 16kHz mono PCM, using full speech-segment detection rather than raw
// per-sample energy — this is the "detected speech duration" spec §4.2
// requires, grounded on vad.py's vad()/get_speech_timestamps.
type Scorer interface {
	// Score returns the summed duration of detected speech segments within
	// the window.
	Score(pcm []int16, opts Options) (time.Duration, error)
	// Close releases any model resources held by the scorer.
	Close() error
}
