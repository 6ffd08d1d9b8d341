// Package engine implements the Turn-Taking Engine (C5): ReplyOnPause and
// ReplyOnStopwords, layered on the VAD Gate / Stopword Detector triggers
// from spec §4.4, grounded on reply_on_pause.py's AppState machine and
// reply_on_stopwords.py's two-phase variant.
package engine

import (
	"context"

	"github.com/rapidaai/mediastream/internal/control"
	"github.com/rapidaai/mediastream/internal/media"
)

// State is the ReplyOnPause/ReplyOnStopwords lifecycle from spec §4.4.
type State int

const (
	Listening State = iota
	UserSpeaking
	Responding
)

func (s State) String() string {
	switch s {
	case UserSpeaking:
		return "USER_SPEAKING"
	case Responding:
		return "RESPONDING"
	default:
		return "LISTENING"
	}
}

// YieldKind tags what a generator produced for one emission.
type YieldKind int

const (
	YieldAudio YieldKind = iota
	YieldVideo
	YieldExtra
)

// Yield is one item produced by a user generator — the Go analogue of the
// reference implementation's EmitType union (AudioFrame | VideoFrame |
// AdditionalOutputs).
type Yield struct {
	Kind  YieldKind
	Audio *media.AudioFrame
	Video *media.VideoFrame
	Extra any
}

// Emission wraps a Yield with an optional terminal error, letting a
// generator surface a failure mid-stream without panicking across a
// channel boundary.
type Emission struct {
	Yield Yield
	Err   error
}

// ReplyFunc is the user-supplied handler invoked once per detected
// utterance. It returns a channel the engine drains until closed or the
// context (cancelled on barge-in or stream end) is done.
type ReplyFunc func(ctx context.Context, utterance []int16, snapshotRest []any) <-chan Emission

// Sink is where the engine forwards decisions: outbound frames, control
// messages, and the barge-in flush signal. Session/handler wiring
// implements this over C4's Runtime and C6's Channel.
type Sink interface {
	EmitControl(kind control.Kind, data any)
	EmitAudio(frame media.AudioFrame)
	EmitVideo(frame media.VideoFrame)
	EmitExtra(v any)
	FlushOutbound()
}

// TriggerEvent unifies what ReplyOnPause's VAD-only trigger and
// ReplyOnStopwords' two-phase trigger report per audio_chunk_duration
// window, so the state machine itself doesn't need to know which flavor
// is driving it.
type TriggerEvent struct {
	Started   bool
	Paused    bool
	Utterance []int16
	// Control carries a side-channel message to emit regardless of the
	// current state transition (e.g. stopword's matched-word announcement).
	Control *ControlEvent
}

type ControlEvent struct {
	Kind control.Kind
	Data any
}

// Trigger produces TriggerEvents from inbound 16kHz PCM. NewReplyOnPause
// and NewReplyOnStopwords each wrap a different concrete detector behind
// this interface.
type Trigger interface {
	Push(ctx context.Context, pcm []int16) ([]TriggerEvent, error)
	Reset()
}

// SnapshotProvider returns the session's current input snapshot; index 0
// is the reserved __webrtc_value__ sentinel per spec §3, so the engine
// passes snapshot[1:] to the generator.
type SnapshotProvider func() []any
