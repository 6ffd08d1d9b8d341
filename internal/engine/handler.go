package engine

import (
	"github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/media"
)

// HandlerAdapter lets the C4 Handler Runtime drive a C5 engine's inbound
// pump directly: Receive feeds every decoded frame to Engine.Push so the
// VAD/stopword trigger sees a continuous stream. Outbound frames never
// flow through Emit — Sink (control.EngineSink) writes them straight onto
// the runtime as the generator yields them — so Emit always reports
// nothing to send.
type HandlerAdapter struct {
	engine *Engine
	props  media.AudioParams
}

// AsHandler wraps e for a session whose registered handler is a
// turn-taking engine rather than raw user code. e is already
// session-scoped (built fresh per session by the caller's EngineFactory),
// so Copy is the identity — there is no shared state left to isolate.
func (e *Engine) AsHandler(props media.AudioParams) handler.Handler {
	return &HandlerAdapter{engine: e, props: props}
}

func (h *HandlerAdapter) Properties() media.AudioParams { return h.props }

func (h *HandlerAdapter) Receive(frame media.AudioFrame) {
	if err := h.engine.Push(frame.Samples); err != nil {
		h.engine.logger.Warnf("engine: push inbound frame: %v", err)
	}
}

func (h *HandlerAdapter) Emit() (media.AudioFrame, bool) { return media.AudioFrame{}, false }

func (h *HandlerAdapter) Copy() handler.Handler { return h }

// Shutdown cancels any in-flight generator, matching spec §4.4's
// stream-ended tie-break.
func (h *HandlerAdapter) Shutdown() { h.engine.StreamEnded() }
