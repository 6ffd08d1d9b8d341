package vad

import "time"

// Event is one output of the Gate's window-by-window evaluation.
type Event int

const (
	Continuing Event = iota
	StartedTalking
	Paused
)

func (e Event) String() string {
	switch e {
	case StartedTalking:
		return "STARTED_TALKING"
	case Paused:
		return "PAUSED"
	default:
		return "CONTINUING"
	}
}

// Config holds the C2 window/threshold parameters from spec §4.2.
type Config struct {
	AudioChunkDuration   time.Duration
	StartedTalkingThresh time.Duration
	SpeechThresh         time.Duration
	Options              Options
}

// Result is returned once per audio_chunk_duration decision.
type Result struct {
	Event     Event
	Utterance []int16 // populated only on Paused: full utterance since start-of-speech
}

// Gate buffers inbound 16kHz PCM and evaluates it once per
// audio_chunk_duration, per spec §4.2's algorithm. It is not safe for
// concurrent use — the spec assigns it a single-writer/single-reader ring
// buffer with no lock needed (§5).
type Gate struct {
	scorer Scorer
	cfg    Config

	window       []int16
	speaking     bool
	utteranceBuf []int16
}

func NewGate(scorer Scorer, cfg Config) *Gate {
	return &Gate{scorer: scorer, cfg: cfg}
}

func (g *Gate) windowSamples() int {
	return int(g.cfg.AudioChunkDuration.Seconds() * float64(SampleRate))
}

// Push appends inbound PCM (16kHz mono) and returns zero or more Results —
// one per completed audio_chunk_duration window contained in the input.
func (g *Gate) Push(pcm []int16) ([]Result, error) {
	g.window = append(g.window, pcm...)
	if g.speaking {
		g.utteranceBuf = append(g.utteranceBuf, pcm...)
	}

	windowLen := g.windowSamples()
	var results []Result

	for len(g.window) >= windowLen {
		chunk := g.window[:windowLen]
		g.window = g.window[windowLen:]

		speechDur, err := g.scorer.Score(chunk, g.cfg.Options)
		if err != nil {
			return results, err
		}

		res, err := g.evaluate(speechDur, chunk)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// evaluate applies the IDLE/SPEAKING transition and tie-break rules from
// spec §4.2: exactly-at-threshold counts as non-triggering for started,
// triggering for paused (bias toward responsiveness).
func (g *Gate) evaluate(speechDur time.Duration, chunk []int16) (Result, error) {
	if !g.speaking {
		if speechDur > g.cfg.StartedTalkingThresh {
			g.speaking = true
			g.utteranceBuf = append([]int16{}, chunk...)
			return Result{Event: StartedTalking}, nil
		}
		return Result{Event: Continuing}, nil
	}

	// g.speaking == true
	if speechDur <= g.cfg.SpeechThresh {
		utterance := g.utteranceBuf
		g.speaking = false
		g.utteranceBuf = nil
		return Result{Event: Paused, Utterance: utterance}, nil
	}
	return Result{Event: Continuing}, nil
}

// Reset clears all buffered state, used when a session's turn-taking
// engine forcibly ends an utterance (e.g. stream end while RESPONDING).
func (g *Gate) Reset() {
	g.window = nil
	g.speaking = false
	g.utteranceBuf = nil
}

// Speaking reports whether the gate currently considers the peer to be
// mid-utterance.
func (g *Gate) Speaking() bool {
	return g.speaking
}
