package vad

import (
	"math"
	"time"
)

// RMSScorer is a pure-Go fallback scorer with no cgo/ONNX dependency,
// grounded on the hysteresis-based RMS detector pattern (speech/silence
// thresholds, consecutive-frame confirmation) rather than raw single-frame
// amplitude, so it still approximates "detected speech duration" instead
// of an instantaneous level. Used when config.VADConfig.Backend == "rms".
type RMSScorer struct {
	speechThreshold  float64
	silenceThreshold float64
	subWindowSamples int
}

// NewRMSScorer builds an RMS-energy scorer. subWindowSamples controls the
// granularity at which speech/silence is resolved within a scoring window
// (smaller = finer-grained duration estimate, more CPU).
func NewRMSScorer(speechThreshold, silenceThreshold float64, subWindowSamples int) *RMSScorer {
	if subWindowSamples <= 0 {
		subWindowSamples = 160 // 10ms at 16kHz
	}
	return &RMSScorer{
		speechThreshold:  speechThreshold,
		silenceThreshold: silenceThreshold,
		subWindowSamples: subWindowSamples,
	}
}

// Score sub-divides pcm into fixed sub-windows, classifies each as
// speech/silence via RMS with hysteresis, and returns the summed duration
// of sub-windows classified as speech.
func (s *RMSScorer) Score(pcm []int16, _ Options) (time.Duration, error) {
	inSpeech := false
	speechSamples := 0

	for start := 0; start < len(pcm); start += s.subWindowSamples {
		end := start + s.subWindowSamples
		if end > len(pcm) {
			end = len(pcm)
		}
		level := rms(pcm[start:end])

		if inSpeech {
			if level < s.silenceThreshold {
				inSpeech = false
			}
		} else {
			if level >= s.speechThreshold {
				inSpeech = true
			}
		}
		if inSpeech {
			speechSamples += end - start
		}
	}

	seconds := float64(speechSamples) / float64(SampleRate)
	return time.Duration(seconds * float64(time.Second)), nil
}

func (s *RMSScorer) Close() error { return nil }

func rms(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range pcm {
		v := float64(s) / 32768.0
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(pcm)))
}
