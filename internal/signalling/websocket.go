package signalling

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	internalhandler "github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
)

// wsEvent enumerates the WebSocket audio framing events spec.md §4.8
// defines: "start" opens a session, "media" carries one mu-law payload,
// "stop" ends it, and the supplemental "ping" liveness frame gets an
// immediate "pong" reply. Anything else is routed to the control channel.
type wsEvent string

const (
	eventStart wsEvent = "start"
	eventMedia wsEvent = "media"
	eventStop  wsEvent = "stop"
	eventPing  wsEvent = "ping"
	eventPong  wsEvent = "pong"
)

// telephonePeerRate is the fixed 8kHz mu-law rate every WebSocket audio
// session (browser fallback and telephone bridge alike) negotiates, per
// spec §4.8.
const telephonePeerRate = 8000

// wsFrame is the envelope every inbound WebSocket text message decodes
// into before dispatch.
type wsFrame struct {
	Event      wsEvent         `json:"event"`
	WebsocketID string         `json:"websocket_id,omitempty"`
	Media      *wsMediaPayload `json:"media,omitempty"`
}

type wsMediaPayload struct {
	Payload string `json:"payload"`
}

// ErrNotStarted is returned by handleMedia if "start" has not been
// received yet.
var ErrNotStarted = errors.New("signalling: media frame before start event")

// WebSocketBridge drives the audio-only, send-receive WebSocket path
// (spec §4.8): mu-law 8kHz payloads in, transcoded PCM into the runtime;
// runtime output transcoded back to mu-law and written as media frames.
// This is also the transport the telephone bridge (C10) rides on.
type WebSocketBridge struct {
	logger  logging.Logger
	conn    *websocket.Conn
	runtime *internalhandler.Runtime
	codec   *media.AudioCodec
	params  media.AudioParams

	websocketID string

	mu      sync.Mutex
	started bool

	onStart func(websocketID string)
	onOther func(raw string)
}

// NewWebSocketBridge builds a bridge for one WebSocket session, normalizing
// 8kHz mu-law to/from params (the bound handler's declared AudioParams) via
// an AudioCodec (C1).
func NewWebSocketBridge(logger logging.Logger, conn *websocket.Conn, runtime *internalhandler.Runtime, params media.AudioParams) *WebSocketBridge {
	return &WebSocketBridge{
		logger:  logger,
		conn:    conn,
		runtime: runtime,
		codec:   media.NewAudioCodec(logger, &codecNotifier{logger: logger}, telephonePeerRate, params),
		params:  params,
	}
}

// OnStart registers a callback invoked once the "start" event arrives,
// letting the caller resolve/adopt the websocket_id as the session id.
func (b *WebSocketBridge) OnStart(fn func(websocketID string)) { b.onStart = fn }

// OnOther registers a callback for any text frame that isn't start/media/
// stop framing, forwarding it to the control channel's dispatcher.
func (b *WebSocketBridge) OnOther(fn func(raw string)) { b.onOther = fn }

// ReadLoop blocks reading frames until the connection closes or a "stop"
// event arrives, dispatching each to the runtime/control callbacks.
func (b *WebSocketBridge) ReadLoop() {
	defer b.runtime.PushDisconnection(internalhandler.DisconnectionUser)
	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		if stop := b.dispatch(raw); stop {
			return
		}
	}
}

func (b *WebSocketBridge) dispatch(raw []byte) (stop bool) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		if b.onOther != nil {
			b.onOther(string(raw))
		}
		return false
	}

	switch frame.Event {
	case eventStart:
		b.mu.Lock()
		b.started = true
		b.websocketID = frame.WebsocketID
		b.mu.Unlock()
		if b.onStart != nil {
			b.onStart(frame.WebsocketID)
		}
	case eventMedia:
		if err := b.handleMedia(frame.Media); err != nil {
			b.logger.Warnf("signalling: %v", err)
		}
	case eventPing:
		b.writePong()
	case eventStop:
		return true
	default:
		if b.onOther != nil {
			b.onOther(string(raw))
		}
	}
	return false
}

func (b *WebSocketBridge) handleMedia(payload *wsMediaPayload) error {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if payload == nil {
		return fmt.Errorf("signalling: media event missing payload")
	}
	mulaw, err := base64.StdEncoding.DecodeString(payload.Payload)
	if err != nil {
		return fmt.Errorf("signalling: decode mu-law payload: %w", err)
	}
	pcm := media.MulawToPCM(mulaw)
	decoded, err := b.codec.DecodeInbound(media.AudioFrame{SampleRate: telephonePeerRate, Channels: 1, Samples: pcm})
	if err != nil {
		return fmt.Errorf("signalling: normalize inbound audio: %w", err)
	}
	b.runtime.BufferAndSendInput(int16SliceToBytes(decoded.Samples))
	return nil
}

// writePong replies to a client "ping" liveness frame, grounded on
// original_source/backend/fastrtc/websocket.py's ping/pong handling.
func (b *WebSocketBridge) writePong() {
	body, err := json.Marshal(wsFrame{Event: eventPong})
	if err != nil {
		return
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		b.logger.Warnf("signalling: write pong: %v", err)
	}
}

// WriteLoop drains the runtime's output channel, transcodes PCM to
// mu-law, and writes it back as base64 "media" events until the runtime
// closes.
func (b *WebSocketBridge) WriteLoop() {
	outChannels := 1
	if b.params.ChannelLayout == media.Stereo {
		outChannels = 2
	}
	for {
		select {
		case <-b.runtime.Ctx.Done():
			return
		case out, ok := <-b.runtime.OutputCh:
			if !ok {
				return
			}
			pcm := bytesToInt16Slice(out.Audio)
			frame := media.AudioFrame{SampleRate: b.params.OutputSampleRate, Channels: outChannels, Samples: pcm}
			for _, peerPCM := range b.codec.EncodeOutbound(frame, telephonePeerRate, false) {
				b.writeMediaFrame(media.PCMToMulaw(peerPCM))
			}
			b.runtime.ReleaseOutbound(out)
		}
	}
}

func (b *WebSocketBridge) writeMediaFrame(mulaw []byte) {
	frame := wsFrame{Event: eventMedia, Media: &wsMediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)}}
	body, err := json.Marshal(frame)
	if err != nil {
		b.logger.Warnf("signalling: marshal media frame: %v", err)
		return
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		b.logger.Warnf("signalling: write media frame: %v", err)
	}
}

// SessionID returns the websocket_id the client sent in "start", once
// available.
func (b *WebSocketBridge) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.websocketID
}
