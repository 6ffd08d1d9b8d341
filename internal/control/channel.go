package control

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/rapidaai/mediastream/internal/logging"
)

// Dispatcher is implemented by transports (currently inlineSocketTransport)
// whose read loop lives outside the Channel itself and must hand received
// frames back in explicitly, rather than via a background goroutine like
// dataChannelTransport's OnMessage callback.
type Dispatcher interface {
	Dispatch(raw string)
}

// Channel is the reliable bidirectional message bus C6 exposes to the rest
// of a session: outbound control messages and a callback for whatever the
// peer sends back (spec §4.6's "server received: ..." echo-as-log
// behaviour, grounded on webrtc_connection_mixin.py's datachannel handler).
type Channel interface {
	Send(msg Message) error
	OnReceive(fn func(raw string))
	Close() error
}

// dataChannelTransport carries control messages over a WebRTC data
// channel named "text", matching the reference implementation's
// `pc.on("datachannel")` wiring.
type dataChannelTransport struct {
	logger logging.Logger
	dc     *webrtc.DataChannel

	mu     sync.Mutex
	onRecv func(string)
}

// NewDataChannelTransport wires an already-negotiated WebRTC data channel
// as a Channel. Callers create the channel (either locally via
// CreateDataChannel or from the remote's OnDataChannel callback) and hand
// it here once open.
func NewDataChannelTransport(logger logging.Logger, dc *webrtc.DataChannel) Channel {
	t := &dataChannelTransport{logger: logger, dc: dc}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.Lock()
		fn := t.onRecv
		t.mu.Unlock()
		if fn != nil {
			fn(string(msg.Data))
		} else {
			logger.Debugf("control: received on unattached channel: %s", string(msg.Data))
		}
	})
	return t
}

func (t *dataChannelTransport) Send(msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("control: marshal: %w", err)
	}
	if t.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("control: data channel not open")
	}
	return t.dc.SendText(string(body))
}

func (t *dataChannelTransport) OnReceive(fn func(raw string)) {
	t.mu.Lock()
	t.onRecv = fn
	t.mu.Unlock()
}

func (t *dataChannelTransport) Close() error {
	return t.dc.Close()
}

// inlineSocketTransport carries control messages as JSON text frames on
// the same WebSocket connection media flows over, for sessions signalled
// over WebSocket `start`/`media`/`stop` framing instead of WebRTC.
type inlineSocketTransport struct {
	logger logging.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	onRecv  func(string)
}

func NewInlineSocketTransport(logger logging.Logger, conn *websocket.Conn) Channel {
	return &inlineSocketTransport{logger: logger, conn: conn}
}

func (t *inlineSocketTransport) Send(msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("control: marshal: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, body)
}

// Dispatch is called by the session's WebSocket read loop for every text
// frame that isn't a media frame, forwarding it to whatever OnReceive
// handler is registered.
func (t *inlineSocketTransport) Dispatch(raw string) {
	t.mu.Lock()
	fn := t.onRecv
	t.mu.Unlock()
	if fn != nil {
		fn(raw)
	} else {
		t.logger.Debugf("control: received on unattached channel: %s", raw)
	}
}

func (t *inlineSocketTransport) OnReceive(fn func(raw string)) {
	t.mu.Lock()
	t.onRecv = fn
	t.mu.Unlock()
}

func (t *inlineSocketTransport) Close() error { return nil }

// logOnlyChannel implements Channel for transports with no client-visible
// control side-channel (a bare SIP trunk has no data-channel/JSON-framing
// equivalent) — outbound control messages are logged instead of delivered,
// and nothing is ever received.
type logOnlyChannel struct {
	logger logging.Logger
}

// NewLogOnlyChannel builds a Channel that logs every Send instead of
// delivering it anywhere, for sessions with no peer-visible control path.
func NewLogOnlyChannel(logger logging.Logger) Channel {
	return &logOnlyChannel{logger: logger}
}

func (c *logOnlyChannel) Send(msg Message) error {
	c.logger.Debugf("control: %s %v (no client-visible channel)", msg.Type, msg.Data)
	return nil
}

func (c *logOnlyChannel) OnReceive(fn func(raw string)) {}
func (c *logOnlyChannel) Close() error                   { return nil }
