package stopword

import (
	"context"
	"time"

	"github.com/rapidaai/mediastream/internal/transcribe"
	"github.com/rapidaai/mediastream/internal/vad"
)

// Event is one outcome of a completed audio_chunk_duration evaluation.
type Event int

const (
	Continuing Event = iota
	StopwordDetected
	StartedTalking
	Paused
)

func (e Event) String() string {
	switch e {
	case StopwordDetected:
		return "STOPWORD_DETECTED"
	case StartedTalking:
		return "STARTED_TALKING"
	case Paused:
		return "PAUSED"
	default:
		return "CONTINUING"
	}
}

// Result is returned once per completed evaluation window.
type Result struct {
	Event Event
	// Word carries the matched phrase on StopwordDetected. Unlike the
	// reference implementation (which sends an empty "stopword" payload),
	// this carries the matched phrase so downstream consumers don't have
	// to re-run detection to learn what triggered it.
	Word string
	// Utterance carries the full post-stopword utterance on Paused.
	Utterance []int16
}

// Config holds the C3 parameters from spec §4.3.
type Config struct {
	AudioChunkDuration   time.Duration
	WindowSeconds        float64 // cap on the pre-detection rolling STT buffer
	StartedTalkingThresh time.Duration
	SpeechThresh         time.Duration
	VADOptions           vad.Options
}

// Detector implements the two-phase gate: phase one transcribes a rolling
// window looking for a configured phrase; phase two behaves like the VAD
// Gate but only starts counting once phase one has fired.
type Detector struct {
	transcriber transcribe.Transcriber
	matcher     *Matcher
	scorer      vad.Scorer
	cfg         Config

	chunkAcc   []int16
	postBuffer []int16

	detected bool
	word     string

	speaking     bool
	utteranceBuf []int16
}

func NewDetector(transcriber transcribe.Transcriber, matcher *Matcher, scorer vad.Scorer, cfg Config) *Detector {
	return &Detector{transcriber: transcriber, matcher: matcher, scorer: scorer, cfg: cfg}
}

func (d *Detector) chunkSamples() int {
	return int(d.cfg.AudioChunkDuration.Seconds() * float64(vad.SampleRate))
}

func (d *Detector) maxBufferSamples() int {
	return int(d.cfg.WindowSeconds * float64(vad.SampleRate))
}

// Push appends inbound 16kHz mono PCM and returns zero or more Results, one
// per completed audio_chunk_duration window.
func (d *Detector) Push(ctx context.Context, pcm []int16) ([]Result, error) {
	d.chunkAcc = append(d.chunkAcc, pcm...)

	chunkLen := d.chunkSamples()
	var results []Result

	for len(d.chunkAcc) >= chunkLen {
		chunk := d.chunkAcc[:chunkLen]
		d.chunkAcc = d.chunkAcc[chunkLen:]

		var (
			res Result
			err error
		)
		if !d.detected {
			res, err = d.evaluatePreDetection(ctx, chunk)
		} else {
			speechDur, scoreErr := d.scorer.Score(chunk, d.cfg.VADOptions)
			if scoreErr != nil {
				return results, scoreErr
			}
			res = d.evaluatePostDetection(speechDur, chunk)
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Detector) evaluatePreDetection(ctx context.Context, chunk []int16) (Result, error) {
	d.postBuffer = append(d.postBuffer, chunk...)
	if max := d.maxBufferSamples(); max > 0 && len(d.postBuffer) > max {
		d.postBuffer = d.postBuffer[len(d.postBuffer)-max:]
	}

	text, err := d.transcriber.Transcribe(ctx, d.postBuffer, vad.SampleRate)
	if err != nil {
		return Result{}, err
	}

	if word, ok := d.matcher.Match(text); ok {
		d.detected = true
		d.word = word
		return Result{Event: StopwordDetected, Word: word}, nil
	}
	return Result{Event: Continuing}, nil
}

func (d *Detector) evaluatePostDetection(speechDur time.Duration, chunk []int16) Result {
	justStarted := false
	if !d.speaking && speechDur > d.cfg.StartedTalkingThresh {
		d.speaking = true
		justStarted = true
	}
	if d.speaking {
		d.utteranceBuf = append(d.utteranceBuf, chunk...)
	}
	if d.speaking && speechDur <= d.cfg.SpeechThresh {
		utterance := d.utteranceBuf
		d.speaking = false
		d.utteranceBuf = nil
		return Result{Event: Paused, Utterance: utterance}
	}
	if justStarted {
		return Result{Event: StartedTalking}
	}
	return Result{Event: Continuing}
}

// Reset returns the detector to its pre-detection state, used when the
// session's stream ends and the stopword gate must re-arm.
func (d *Detector) Reset() {
	d.chunkAcc = nil
	d.postBuffer = nil
	d.detected = false
	d.word = ""
	d.speaking = false
	d.utteranceBuf = nil
}

func (d *Detector) Detected() bool { return d.detected }
func (d *Detector) Speaking() bool { return d.speaking }
