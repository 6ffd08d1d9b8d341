package engine

import (
	"context"

	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/stopword"
	"github.com/rapidaai/mediastream/internal/vad"
)

// NewReplyOnPause builds the C5 engine with a plain VAD-driven trigger.
func NewReplyOnPause(ctx context.Context, logger logging.Logger, gate *vad.Gate, reply ReplyFunc, sink Sink, snapshot SnapshotProvider) *Engine {
	return New(ctx, logger, NewPauseTrigger(gate), reply, sink, snapshot)
}

// NewReplyOnStopwords builds the C5 engine gated by a stopword match before
// the pause trigger arms, per spec §4.4.
func NewReplyOnStopwords(ctx context.Context, logger logging.Logger, detector *stopword.Detector, reply ReplyFunc, sink Sink, snapshot SnapshotProvider) *Engine {
	return New(ctx, logger, NewStopwordTrigger(detector), reply, sink, snapshot)
}
