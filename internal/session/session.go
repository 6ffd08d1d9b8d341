// Package session implements the Session Manager (C7): id assignment,
// concurrency admission, lifecycle, and per-session input snapshots and
// output queues, grounded on the teacher's callcontext.Store lifecycle
// pattern (pending -> claimed -> completed) generalized to this system's
// five-state session lifecycle.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/mediastream/internal/control"
	"github.com/rapidaai/mediastream/internal/engine"
	"github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
)

// State is a session's position in the negotiating->connected->active->
// draining->closed lifecycle (spec.md §3, SPEC_FULL.md §4.7).
type State int

const (
	Negotiating State = iota
	Connected
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrConcurrencyLimitReached is returned by Manager.Admit when the active
// session count is already at the configured limit.
var ErrConcurrencyLimitReached = errors.New("concurrency_limit_reached")

// ErrSessionIDTaken is returned when a client-proposed webrtc_id collides
// with a live session (Open Question resolved in DESIGN.md: reject rather
// than silently overwrite).
var ErrSessionIDTaken = errors.New("negotiation_failed: session id already in use")

// InputSnapshotSentinel is the reserved index-0 value of every session's
// input snapshot (spec.md §3).
const InputSnapshotSentinel = "__webrtc_value__"

// outputQueueCapacity bounds AdditionalOutputs queued per session before
// oldest-drop kicks in (spec.md §8's "queue capacity C" property).
const outputQueueCapacity = 32

// Session is one peer connection's server-side state: its handler runtime,
// turn-taking engine, control channel, input snapshot, and output queue.
type Session struct {
	ID        string
	CreatedAt time.Time

	Runtime *handler.Runtime
	Engine  *engine.Engine
	Control control.Channel

	logger logging.Logger

	mu    sync.Mutex
	state State

	inputMu  sync.Mutex
	input    []any
	timer    *time.Timer

	outputMu sync.Mutex
	outputCh chan any
}

func newSession(id string, logger logging.Logger, rt *handler.Runtime, eng *engine.Engine, ch control.Channel) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Runtime:   rt,
		Engine:    eng,
		Control:   ch,
		logger:    logger,
		state:     Negotiating,
		input:     []any{InputSnapshotSentinel},
		outputCh:  make(chan any, outputQueueCapacity),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

// SetPhoneMode marks the session's input snapshot pre-populated per §4.5's
// telephone wait_for_args rule: the snapshot becomes latest_args=[None].
func (s *Session) SetPhoneMode() {
	s.inputMu.Lock()
	s.input = []any{nil}
	s.inputMu.Unlock()
}

// SetInput atomically replaces the input snapshot (index 0 is preserved as
// the sentinel; rest becomes rest...).
func (s *Session) SetInput(rest []any) {
	s.inputMu.Lock()
	s.input = append([]any{s.input[0]}, rest...)
	s.inputMu.Unlock()
}

// InputSnapshot returns a copy of the current input snapshot, observed
// atomically per invocation (spec.md §3 invariant).
func (s *Session) InputSnapshot() []any {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	return append([]any(nil), s.input...)
}

// PushOutput enqueues an AdditionalOutputs value, dropping the oldest
// entry and emitting a warning control message if the queue is full
// (spec.md §8's capacity-C property).
func (s *Session) PushOutput(v any) {
	select {
	case s.outputCh <- v:
	default:
		select {
		case <-s.outputCh:
		default:
		}
		select {
		case s.outputCh <- v:
		default:
		}
		if s.Control != nil {
			_ = s.Control.Send(control.New(control.KindWarning, "output queue full, dropped oldest"))
		}
	}
	if s.Control != nil {
		_ = s.Control.Send(control.New(control.KindFetchOutput, nil))
	}
}

// FetchLatestOutput returns and removes the oldest queued output, or
// ok=false if the queue is empty.
func (s *Session) FetchLatestOutput() (any, bool) {
	select {
	case v := <-s.outputCh:
		return v, true
	default:
		return nil, false
	}
}

// OutputStream yields queued outputs as they arrive until ctx is
// cancelled or the session closes, backing the SSE output hook (§6).
func (s *Session) OutputStream(ctx context.Context) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.Runtime.Ctx.Done():
				return
			case v, ok := <-s.outputCh:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close tears down the session's runtime and cancels its time limit timer.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	timer := s.timer
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.Runtime.PushDisconnection(handler.DisconnectionSystem)
	s.Runtime.Cancel()
}

// Manager admits, tracks, and evicts sessions, enforcing ConcurrencyLimit
// and TimeLimit per spec.md §4.7.
type Manager struct {
	logger           logging.Logger
	concurrencyLimit int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(logger logging.Logger, concurrencyLimit int) *Manager {
	return &Manager{logger: logger, concurrencyLimit: concurrencyLimit, sessions: make(map[string]*Session)}
}

// Admit checks the concurrency limit and creates and registers a new
// Session under proposedID, or under a freshly generated id when
// proposedID is empty. Returns ErrConcurrencyLimitReached (admission is the
// only error kind surfaced synchronously, per spec.md §7) or
// ErrSessionIDTaken if proposedID is already held by a live session.
func (m *Manager) Admit(proposedID string, logger logging.Logger, rt *handler.Runtime, eng *engine.Engine, ch control.Channel) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.concurrencyLimit > 0 && len(m.sessions) >= m.concurrencyLimit {
		return nil, ErrConcurrencyLimitReached
	}

	id := proposedID
	if id != "" {
		if _, taken := m.sessions[id]; taken {
			return nil, ErrSessionIDTaken
		}
	} else {
		id = newSessionID()
	}

	sess := newSession(id, logger, rt, eng, ch)
	sess.transition(Negotiating)
	m.sessions[id] = sess
	return sess, nil
}

// Get looks up a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of currently-tracked sessions (used by
// admission checks and observability).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MarkConnected transitions a session out of Negotiating once signalling
// completes (SDP answer sent / WebSocket "start" acked).
func (m *Manager) MarkConnected(id string) {
	if s, ok := m.Get(id); ok {
		s.transition(Connected)
	}
}

// MarkActive transitions a session into Active once the first media frame
// flows either direction.
func (m *Manager) MarkActive(id string) {
	if s, ok := m.Get(id); ok {
		s.transition(Active)
	}
}

// ArmTimeLimit schedules the session's forced teardown after limit,
// regardless of activity (spec.md §4.7).
func (m *Manager) ArmTimeLimit(id string, limit time.Duration) {
	s, ok := m.Get(id)
	if !ok || limit <= 0 {
		return
	}
	s.mu.Lock()
	s.timer = time.AfterFunc(limit, func() { m.Evict(id) })
	s.mu.Unlock()
}

// Evict transitions a session to Draining, closes it, and removes it from
// the manager so its slot is immediately available to the next admission.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.transition(Draining)
	s.Close()
}

// CloseAll evicts every tracked session, used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Evict(id)
	}
}

// newSessionID mints an opaque, url-safe id of at least 6 characters
// (spec.md §3), grounded on the teacher's uuid-based context ids but
// using a shorter random token since session ids are surfaced to clients
// directly in the signalling response.
func newSessionID() string {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return strings.ReplaceAll(time.Now().Format("150405.000000000"), ".", "")
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
