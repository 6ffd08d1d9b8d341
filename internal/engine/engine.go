package engine

import (
	"context"
	"sync"

	"github.com/rapidaai/mediastream/internal/control"
	"github.com/rapidaai/mediastream/internal/logging"
)

// Engine drives the ReplyOnPause/ReplyOnStopwords state machine. Which
// flavor it is depends entirely on the Trigger it was built with — the
// state machine itself, per spec §4.4, is identical either way.
type Engine struct {
	logger   logging.Logger
	trigger  Trigger
	reply    ReplyFunc
	sink     Sink
	snapshot SnapshotProvider

	rootCtx context.Context

	mu             sync.Mutex
	state          State
	epoch          int
	genCancel      context.CancelFunc
	respondedAudio bool
}

func New(ctx context.Context, logger logging.Logger, trigger Trigger, reply ReplyFunc, sink Sink, snapshot SnapshotProvider) *Engine {
	return &Engine{
		logger:   logger,
		trigger:  trigger,
		reply:    reply,
		sink:     sink,
		snapshot: snapshot,
		rootCtx:  ctx,
		state:    Listening,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Push feeds inbound 16kHz PCM to the trigger and drives whatever state
// transitions its events imply.
func (e *Engine) Push(pcm []int16) error {
	events, err := e.trigger.Push(e.rootCtx, pcm)
	if err != nil {
		return err
	}
	for _, ev := range events {
		e.handleEvent(ev)
	}
	return nil
}

func (e *Engine) handleEvent(ev TriggerEvent) {
	if ev.Control != nil {
		e.sink.EmitControl(ev.Control.Kind, ev.Control.Data)
	}

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case Listening:
		if ev.Started {
			e.transitionToUserSpeaking()
		}
	case UserSpeaking:
		if ev.Paused {
			e.transitionToResponding(ev.Utterance)
		}
	case Responding:
		if ev.Started {
			e.bargeIn()
		}
	}
}

func (e *Engine) transitionToUserSpeaking() {
	e.mu.Lock()
	e.state = UserSpeaking
	e.mu.Unlock()
	e.sink.EmitControl(control.KindLog, "pause_detected=false")
}

func (e *Engine) transitionToResponding(utterance []int16) {
	e.mu.Lock()
	e.state = Responding
	e.epoch++
	myEpoch := e.epoch
	e.respondedAudio = false
	genCtx, cancel := context.WithCancel(e.rootCtx)
	e.genCancel = cancel
	e.mu.Unlock()

	e.sink.EmitControl(control.KindPauseDetected, nil)

	snapshot := e.snapshot()
	var rest []any
	if len(snapshot) > 1 {
		rest = snapshot[1:]
	}

	go e.runGenerator(genCtx, myEpoch, utterance, rest)
}

func (e *Engine) runGenerator(ctx context.Context, myEpoch int, utterance []int16, snapshotRest []any) {
	ch := e.reply(ctx, utterance, snapshotRest)
	for {
		select {
		case <-ctx.Done():
			return
		case emission, ok := <-ch:
			if !ok {
				e.finishResponding(myEpoch)
				return
			}
			if emission.Err != nil {
				e.sink.EmitControl(control.KindError, emission.Err.Error())
				e.finishResponding(myEpoch)
				return
			}
			e.deliver(myEpoch, emission.Yield)
		}
	}
}

func (e *Engine) deliver(myEpoch int, y Yield) {
	e.mu.Lock()
	if e.epoch != myEpoch {
		e.mu.Unlock()
		return
	}
	firstFrame := !e.respondedAudio && (y.Kind == YieldAudio || y.Kind == YieldVideo)
	if firstFrame {
		e.respondedAudio = true
	}
	e.mu.Unlock()

	if firstFrame {
		e.sink.EmitControl(control.KindResponseStarting, nil)
	}

	switch y.Kind {
	case YieldAudio:
		if y.Audio != nil {
			e.sink.EmitAudio(*y.Audio)
		}
	case YieldVideo:
		if y.Video != nil {
			e.sink.EmitVideo(*y.Video)
		}
	case YieldExtra:
		e.sink.EmitExtra(y.Extra)
		e.sink.EmitControl(control.KindFetchOutput, nil)
	}
}

func (e *Engine) finishResponding(myEpoch int) {
	e.mu.Lock()
	if e.epoch != myEpoch {
		e.mu.Unlock()
		return
	}
	e.state = Listening
	e.genCancel = nil
	e.mu.Unlock()
}

// bargeIn cancels the running generator and returns to USER_SPEAKING, per
// spec §4.4's RESPONDING + STARTED_TALKING transition.
func (e *Engine) bargeIn() {
	e.mu.Lock()
	e.epoch++
	cancel := e.genCancel
	e.genCancel = nil
	e.state = UserSpeaking
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.sink.FlushOutbound()
}

// StreamEnded cancels any in-flight generator and emits a truncation
// warning, per spec §4.4's tie-break for a stream ending mid-response.
func (e *Engine) StreamEnded() {
	e.mu.Lock()
	wasResponding := e.state == Responding
	e.epoch++
	cancel := e.genCancel
	e.genCancel = nil
	e.state = Listening
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasResponding {
		e.sink.EmitControl(control.KindWarning, "response truncated: stream ended")
	}
	e.trigger.Reset()
}
