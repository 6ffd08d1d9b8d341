package vad

import (
	"time"

	"github.com/streamer45/silero-vad-go/speech"
)

// SileroScorer wraps the ONNX Silero VAD model. It holds a single
// speech.Detector configured once at construction from the Options given
// to NewSileroScorer; the Options argument to Score is ignored — matching the "expensive, hold in a registry" design note
// in spec §9 (the registry itself lives in internal/registry; this type is
// the leaf the registry hands out references to).
type SileroScorer struct {
	modelPath string
	detector  *speech.Detector
	opts      Options
}

// NewSileroScorer loads the ONNX model once and configures a detector
// matching the given options.
func NewSileroScorer(modelPath string, opts Options) (*SileroScorer, error) {
	d, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           SampleRate,
		Threshold:            opts.Threshold,
		MinSilenceDurationMs: opts.MinSilenceDurationMs,
		SpeechPadMs:          opts.SpeechPadMs,
		WindowSize:           opts.WindowSizeSamples,
	})
	if err != nil {
		return nil, err
	}
	return &SileroScorer{modelPath: modelPath, detector: d, opts: opts}, nil
}

// Score runs full speech-segment detection over the window and returns the
// summed duration of collected speech segments, matching vad.py's
// duration_after_vad computation exactly.
func (s *SileroScorer) Score(pcm []int16, _ Options) (time.Duration, error) {
	floatSamples := make([]float32, len(pcm))
	for i, v := range pcm {
		floatSamples[i] = float32(v) / 32768.0
	}

	segments, err := s.detector.Detect(floatSamples)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, seg := range segments {
		total += seg.SpeechEndAt - seg.SpeechStartAt
	}
	return time.Duration(total * float64(time.Second)), nil
}

func (s *SileroScorer) Close() error {
	return s.detector.Destroy()
}
