// Package handler implements the Handler Runtime (C4): the bounded,
// non-blocking bridge between a session's transport (WebRTC/WebSocket/SIP)
// and the turn-taking engine, grounded on the functional-options
// BaseStreamer shape.
package handler

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/rapidaai/mediastream/internal/logging"
)

// AudioFormat identifies the byte-level encoding buffered by the runtime.
// The runtime buffers raw encoded bytes, not decoded samples, so it stays
// agnostic to whether a session is WebRTC (PCM16) or telephony (mu-law).
type AudioFormat int

const (
	FormatPCM16 AudioFormat = iota
	FormatMuLaw8
)

// AudioConfig lets callers derive buffer thresholds from a wire format
// instead of hand-computing byte counts.
type AudioConfig struct {
	SampleRate int
	Format     AudioFormat
	Channels   int
}

// BytesPerMs returns how many encoded bytes correspond to one millisecond
// of audio under cfg.
func BytesPerMs(cfg AudioConfig) int {
	bytesPerSample := 2
	if cfg.Format == FormatMuLaw8 {
		bytesPerSample = 1
	}
	return cfg.SampleRate * bytesPerSample * cfg.Channels / 1000
}

const (
	DefaultInputChannelSize   = 64
	DefaultOutputChannelSize  = 64
	DefaultInputBufferThresh  = 3200 // 16kHz PCM16 mono * 100ms
	DefaultOutputFrameSize    = 640  // 16kHz PCM16 mono * 20ms
	inputBufferPreallocFactor = 2
	fallbackBufferPrealloc    = 4096
)

// InboundStallTimeout is how long a session may go without an inbound
// frame before WatchInboundStall fires its callback (spec §5): the session
// is kept alive, only a warning is raised.
const InboundStallTimeout = 30 * time.Second

// DisconnectionType classifies why a session ended, mirroring the
// reference implementation's disconnection reasons.
type DisconnectionType int

const (
	DisconnectionUnknown DisconnectionType = iota
	DisconnectionUser
	DisconnectionSystem
	DisconnectionTimeout
	DisconnectionError
)

// Inbound is what arrives on InputCh: either audio or a disconnection
// marker (never both).
type Inbound struct {
	Audio         []byte
	Disconnection *Disconnection
}

type Disconnection struct {
	Type DisconnectionType
	Time time.Time
}

// Outbound is what the engine pushes for the transport layer to send.
// Audio may be backed by the runtime's frame pool — callers that read
// frames off OutputCh should call Runtime.ReleaseOutbound once sent.
type Outbound struct {
	Audio []byte
}

// Runtime is the bounded, non-blocking channel pair a session's transport
// reads from and writes to. Fields are exported for testability, matching
// the grounding source's style.
type Runtime struct {
	Logger       logging.Logger
	Ctx          context.Context
	Cancel       context.CancelFunc
	InputCh      chan *Inbound
	OutputCh     chan *Outbound
	FlushAudioCh chan struct{}

	closedMu sync.Mutex
	Closed   bool

	inputBufferThreshold int
	outputBufferThreshold int
	outputFrameSize       int

	inputMu     sync.Mutex
	inputBuf    *bytes.Buffer
	lastInputAt time.Time

	outputMu  sync.Mutex
	outputBuf *bytes.Buffer
}

type config struct {
	inputChannelSize      int
	outputChannelSize     int
	inputBufferThreshold  int
	outputBufferThreshold int
	outputFrameSize       int
	haveOutputThreshold   bool
}

// Option configures a Runtime at construction time.
type Option func(*config)

func WithInputChannelSize(n int) Option  { return func(c *config) { c.inputChannelSize = n } }
func WithOutputChannelSize(n int) Option { return func(c *config) { c.outputChannelSize = n } }
func WithInputBufferThreshold(n int) Option {
	return func(c *config) { c.inputBufferThreshold = n }
}
func WithOutputBufferThreshold(n int) Option {
	return func(c *config) { c.outputBufferThreshold = n; c.haveOutputThreshold = true }
}
func WithOutputFrameSize(n int) Option { return func(c *config) { c.outputFrameSize = n } }

// WithInputAudioConfig derives the input buffer threshold (60ms worth of
// bytes) from a wire format instead of a hand-picked constant.
func WithInputAudioConfig(cfg AudioConfig) Option {
	return func(c *config) { c.inputBufferThreshold = BytesPerMs(cfg) * 60 }
}

// WithOutputAudioConfig derives the output frame size (20ms worth of
// bytes) from a wire format. The output threshold defaults to the frame
// size unless overridden explicitly.
func WithOutputAudioConfig(cfg AudioConfig) Option {
	return func(c *config) { c.outputFrameSize = BytesPerMs(cfg) * 20 }
}

func NewRuntime(logger logging.Logger, opts ...Option) *Runtime {
	cfg := config{
		inputChannelSize:     DefaultInputChannelSize,
		outputChannelSize:    DefaultOutputChannelSize,
		inputBufferThreshold: DefaultInputBufferThresh,
		outputFrameSize:      DefaultOutputFrameSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.haveOutputThreshold {
		cfg.outputBufferThreshold = cfg.outputFrameSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	inputPrealloc := cfg.inputBufferThreshold * inputBufferPreallocFactor
	if inputPrealloc <= 0 {
		inputPrealloc = fallbackBufferPrealloc
	}
	outputPrealloc := cfg.outputBufferThreshold + cfg.outputFrameSize
	if outputPrealloc <= 0 {
		outputPrealloc = fallbackBufferPrealloc
	}

	return &Runtime{
		Logger:                logger,
		Ctx:                   ctx,
		Cancel:                cancel,
		InputCh:               make(chan *Inbound, cfg.inputChannelSize),
		OutputCh:              make(chan *Outbound, cfg.outputChannelSize),
		FlushAudioCh:          make(chan struct{}, 1),
		inputBufferThreshold:  cfg.inputBufferThreshold,
		outputBufferThreshold: cfg.outputBufferThreshold,
		outputFrameSize:       cfg.outputFrameSize,
		inputBuf:              bytes.NewBuffer(make([]byte, 0, inputPrealloc)),
		outputBuf:             bytes.NewBuffer(make([]byte, 0, outputPrealloc)),
		lastInputAt:           time.Now(),
	}
}

// WatchInboundStall starts a background watchdog that invokes onStall
// (without touching session lifecycle) whenever more than timeout has
// elapsed since the last inbound frame reached BufferAndSendInput. It exits
// once the runtime's context is cancelled. Per spec §5 this is a warning
// only — the session is kept alive regardless of how long it fires.
func (r *Runtime) WatchInboundStall(timeout time.Duration, onStall func()) {
	go func() {
		ticker := time.NewTicker(timeout)
		defer ticker.Stop()
		for {
			select {
			case <-r.Ctx.Done():
				return
			case <-ticker.C:
				r.inputMu.Lock()
				idle := time.Since(r.lastInputAt) >= timeout
				r.inputMu.Unlock()
				if idle {
					onStall()
				}
			}
		}
	}()
}

func (r *Runtime) InputBufferThreshold() int  { return r.inputBufferThreshold }
func (r *Runtime) OutputBufferThreshold() int { return r.outputBufferThreshold }
func (r *Runtime) OutputFrameSize() int       { return r.outputFrameSize }

func (r *Runtime) Context() context.Context { return r.Ctx }

// PushInput enqueues an inbound message without blocking, dropping the
// oldest queued message and warning if the channel is saturated — the
// oldest-drop policy spec §5 requires for bounded backpressure.
func (r *Runtime) PushInput(msg *Inbound) {
	select {
	case r.InputCh <- msg:
	default:
		select {
		case <-r.InputCh:
		default:
		}
		select {
		case r.InputCh <- msg:
		default:
		}
		r.Logger.Warn("handler: input channel full, dropping oldest message")
	}
}

// PushOutput enqueues an outbound message without blocking.
func (r *Runtime) PushOutput(msg *Outbound) {
	select {
	case r.OutputCh <- msg:
	default:
		r.Logger.Warn("handler: output channel full, dropping message")
	}
}

// PushDisconnection is idempotent: only the first call after construction
// enqueues a message and flips Closed.
func (r *Runtime) PushDisconnection(t DisconnectionType) {
	r.closedMu.Lock()
	if r.Closed {
		r.closedMu.Unlock()
		return
	}
	r.Closed = true
	r.closedMu.Unlock()

	r.PushInput(&Inbound{Disconnection: &Disconnection{Type: t, Time: time.Now()}})
}

// Recv blocks until a message is available, the context is cancelled, or
// InputCh is closed, returning io.EOF in the latter two cases.
func (r *Runtime) Recv() (*Inbound, error) {
	select {
	case <-r.Ctx.Done():
		return nil, io.EOF
	case msg, ok := <-r.InputCh:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	}
}

// BufferAndSendInput accumulates raw bytes and flushes the whole buffer as
// one Inbound once it reaches inputBufferThreshold.
func (r *Runtime) BufferAndSendInput(chunk []byte) {
	r.inputMu.Lock()
	r.lastInputAt = time.Now()
	r.inputBuf.Write(chunk)
	shouldFlush := r.inputBuf.Len() >= r.inputBufferThreshold
	var out []byte
	if shouldFlush {
		out = append([]byte(nil), r.inputBuf.Bytes()...)
		r.inputBuf.Reset()
	}
	r.inputMu.Unlock()

	if shouldFlush {
		r.PushInput(&Inbound{Audio: out})
	}
}

// BufferAndSendOutput accumulates raw bytes and emits fixed-size frames as
// soon as outputBufferThreshold worth of data has accumulated, retaining
// any remainder for the next call.
func (r *Runtime) BufferAndSendOutput(chunk []byte) {
	r.outputMu.Lock()
	r.outputBuf.Write(chunk)

	var frames [][]byte
	for r.outputBuf.Len() >= r.outputBufferThreshold && r.outputFrameSize > 0 {
		buf := r.outputBuf.Bytes()
		for len(buf) >= r.outputFrameSize {
			frame := getFrame(r.outputFrameSize)
			copy(frame, buf[:r.outputFrameSize])
			frames = append(frames, frame)
			buf = buf[r.outputFrameSize:]
		}
		remainder := append([]byte(nil), buf...)
		r.outputBuf.Reset()
		r.outputBuf.Write(remainder)
		break
	}
	r.outputMu.Unlock()

	for _, f := range frames {
		r.PushOutput(&Outbound{Audio: f})
	}
}

// ClearInputBuffer discards any partially-accumulated input bytes and
// drains InputCh, used on barge-in.
func (r *Runtime) ClearInputBuffer() {
	r.inputMu.Lock()
	r.inputBuf.Reset()
	r.inputMu.Unlock()
	drainInput(r.InputCh)
}

// ClearOutputBuffer discards partially-accumulated output bytes, drains
// OutputCh, and signals FlushAudioCh so the transport layer can flush
// whatever it already sent downstream (barge-in cancellation).
func (r *Runtime) ClearOutputBuffer() {
	r.outputMu.Lock()
	r.outputBuf.Reset()
	r.outputMu.Unlock()
	drainOutput(r.OutputCh)

	select {
	case r.FlushAudioCh <- struct{}{}:
	default:
	}
}

// WithInputBuffer runs fn with exclusive access to the raw input
// accumulator, for callers needing lower-level buffer inspection.
func (r *Runtime) WithInputBuffer(fn func(*bytes.Buffer)) {
	r.inputMu.Lock()
	defer r.inputMu.Unlock()
	fn(r.inputBuf)
}

func (r *Runtime) WithOutputBuffer(fn func(*bytes.Buffer)) {
	r.outputMu.Lock()
	defer r.outputMu.Unlock()
	fn(r.outputBuf)
}

func (r *Runtime) ResetInputBuffer() {
	r.inputMu.Lock()
	r.inputBuf.Reset()
	r.inputMu.Unlock()
}

func (r *Runtime) ResetOutputBuffer() {
	r.outputMu.Lock()
	r.outputBuf.Reset()
	r.outputMu.Unlock()
}

// ReleaseOutbound returns a frame allocated by BufferAndSendOutput to the
// pool. Safe to call on frames not sourced from the pool (e.g. those built
// by the turn-taking engine directly) — it's a plain slice reset.
func (r *Runtime) ReleaseOutbound(o *Outbound) {
	if o == nil {
		return
	}
	putFrame(o.Audio)
}

func drainInput(ch chan *Inbound) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func drainOutput(ch chan *Outbound) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
