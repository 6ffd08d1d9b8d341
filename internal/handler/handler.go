package handler

import (
	"context"
	"time"

	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
)

// Handler is the per-session user code contract (spec §4.5/§6). Exactly
// one instance is bound to a session for its entire life; concurrent
// sessions each hold a Copy() so no mutable state is shared between them.
type Handler interface {
	// Properties describes the sample rates, frame size, and channel
	// layout this handler expects/produces, used by the Frame Codec to
	// decide what conversion inbound/outbound frames need.
	Properties() media.AudioParams

	// Receive is called once per inbound frame after codec normalization.
	// Must not block; if the handler's own queue is full it should drop
	// the oldest entry itself rather than stall the caller.
	Receive(frame media.AudioFrame)

	// Emit is polled by the outbound pump. ok=false means "nothing to
	// send right now, poll again" and must return without blocking.
	Emit() (frame media.AudioFrame, ok bool)

	// Copy returns a fresh Handler with the same configuration but no
	// shared runtime state. Called exactly once per new session.
	Copy() Handler

	// Shutdown releases owned resources. Called exactly once on
	// teardown and must be idempotent.
	Shutdown()
}

// StartUpper is an optional extension: implementing it means StartUp is
// invoked once after Copy and before the first Receive/Emit.
type StartUpper interface {
	StartUp(ctx context.Context) error
}

// PhoneAware lets a handler observe telephone-mode wiring so it can skip
// wait_for_args without deadlocking (spec §4.5 "Input wait").
type PhoneAware interface {
	SetPhoneMode(phoneMode bool)
}

// pollInterval is how often the runtime loop polls Emit() when the
// handler has no pending outbound frame.
const pollInterval = 5 * time.Millisecond

// Session binds one Handler instance to one Runtime and drives the
// receive/emit loop the runtime's transport reads from and writes to.
// This is the "bounded worker pool" spec §4.5 describes bridging
// synchronous handler calls into the event loop: a receive goroutine and
// an emit goroutine, each single-flight per session so a slow handler
// call cannot pile up concurrent calls into the same handler instance.
type Session struct {
	logger  logging.Logger
	handler Handler
	runtime *Runtime
	encode  func(media.AudioFrame) []byte
	decode  func([]byte) media.AudioFrame

	phoneMode bool
}

// NewSession copies handler (guaranteeing this session owns a distinct
// instance) and wires it to runtime. encode/decode convert between the
// runtime's raw wire bytes and the handler's AudioFrame contract.
func NewSession(logger logging.Logger, prototype Handler, runtime *Runtime, decode func([]byte) media.AudioFrame, encode func(media.AudioFrame) []byte) *Session {
	return &Session{
		logger:  logger,
		handler: prototype.Copy(),
		runtime: runtime,
		encode:  encode,
		decode:  decode,
	}
}

// SetPhoneMode marks this session as telephone-originated. Per spec §4.5,
// phone sessions never receive input arguments, so a PhoneAware handler
// can avoid waiting on them.
func (s *Session) SetPhoneMode(phoneMode bool) {
	s.phoneMode = phoneMode
	if pa, ok := s.handler.(PhoneAware); ok {
		pa.SetPhoneMode(phoneMode)
	}
}

// Run starts the handler (if it implements StartUpper) then drives the
// receive and emit loops until ctx is cancelled or the runtime closes.
// Handler panics are recovered and surfaced as a warning: per spec §7 a
// handler error must never cross the session boundary.
func (s *Session) Run(ctx context.Context) {
	if su, ok := s.handler.(StartUpper); ok {
		if err := su.StartUp(ctx); err != nil {
			s.logger.Errorf("handler: start_up failed: %v", err)
			return
		}
	}
	defer s.handler.Shutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.receiveLoop(ctx)
	}()
	s.emitLoop(ctx)
	<-done
}

func (s *Session) receiveLoop(ctx context.Context) {
	for {
		msg, err := s.runtime.Recv()
		if err != nil {
			return
		}
		if msg.Disconnection != nil {
			return
		}
		s.safeReceive(s.decode(msg.Audio))
	}
}

func (s *Session) safeReceive(frame media.AudioFrame) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnf("handler: receive panicked: %v", r)
		}
	}()
	s.handler.Receive(frame)
}

func (s *Session) emitLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.runtime.Ctx.Done():
			return
		case <-ticker.C:
			frame, ok := s.safeEmit()
			if !ok {
				continue
			}
			s.runtime.PushOutput(&Outbound{Audio: s.encode(frame)})
		}
	}
}

func (s *Session) safeEmit() (frame media.AudioFrame, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnf("handler: emit panicked: %v", r)
			ok = false
		}
	}()
	return s.handler.Emit()
}

// EchoHandler is the reference handler from spec §8 scenario 1: it
// enqueues every inbound frame and emits the oldest one on each poll.
// Used by integration tests and as a default when no handler is
// registered.
type EchoHandler struct {
	props media.AudioParams
	queue chan media.AudioFrame
}

func NewEchoHandler(props media.AudioParams, queueDepth int) *EchoHandler {
	return &EchoHandler{props: props, queue: make(chan media.AudioFrame, queueDepth)}
}

func (h *EchoHandler) Properties() media.AudioParams { return h.props }

func (h *EchoHandler) Receive(frame media.AudioFrame) {
	select {
	case h.queue <- frame:
	default:
		select {
		case <-h.queue:
		default:
		}
		select {
		case h.queue <- frame:
		default:
		}
	}
}

func (h *EchoHandler) Emit() (media.AudioFrame, bool) {
	select {
	case f := <-h.queue:
		return f, true
	default:
		return media.AudioFrame{}, false
	}
}

func (h *EchoHandler) Copy() Handler {
	return NewEchoHandler(h.props, cap(h.queue))
}

func (h *EchoHandler) Shutdown() {}
