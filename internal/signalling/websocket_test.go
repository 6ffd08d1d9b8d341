package signalling

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalhandler "github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
)

var upgrader = websocket.Upgrader{}

// telephoneAudioParams mirrors what SIP/telephone handlers declare in
// practice: 8kHz mono matching the wire rate exactly, so tests exercise the
// real codec path as a no-op resample.
func telephoneAudioParams() media.AudioParams {
	return media.AudioParams{SampleRate: 8000, OutputSampleRate: 8000, OutputFrameSamples: 160, ChannelLayout: media.Mono}
}

func newBridgePair(t *testing.T) (*WebSocketBridge, *websocket.Conn, func()) {
	t.Helper()
	rt := internalhandler.NewRuntime(logging.NewNop())
	var bridge *WebSocketBridge
	var once sync.Once
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		bridge = NewWebSocketBridge(logging.NewNop(), conn, rt, telephoneAudioParams())
		once.Do(func() { close(ready) })
		bridge.ReadLoop()
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	<-ready
	return bridge, clientConn, func() {
		clientConn.Close()
		srv.Close()
	}
}

func TestWebSocketBridge_StartInvokesCallback(t *testing.T) {
	rt := internalhandler.NewRuntime(logging.NewNop())
	bridge := &WebSocketBridge{logger: logging.NewNop(), runtime: rt}

	var got string
	bridge.OnStart(func(id string) { got = id })

	stop := bridge.dispatch([]byte(`{"event":"start","websocket_id":"abc123"}`))
	assert.False(t, stop)
	assert.Equal(t, "abc123", got)
	assert.Equal(t, "abc123", bridge.SessionID())
}

func TestWebSocketBridge_MediaBeforeStartIsRejected(t *testing.T) {
	rt := internalhandler.NewRuntime(logging.NewNop())
	bridge := &WebSocketBridge{logger: logging.NewNop(), runtime: rt}

	payload := base64.StdEncoding.EncodeToString(media.PCMToMulaw([]int16{1, 2, 3}))
	err := bridge.handleMedia(&wsMediaPayload{Payload: payload})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestWebSocketBridge_MediaDecodesMulawIntoRuntime(t *testing.T) {
	rt := internalhandler.NewRuntime(logging.NewNop(), internalhandler.WithInputBufferThreshold(1))
	params := telephoneAudioParams()
	bridge := &WebSocketBridge{
		logger:  logging.NewNop(),
		runtime: rt,
		codec:   media.NewAudioCodec(logging.NewNop(), &codecNotifier{logger: logging.NewNop()}, telephonePeerRate, params),
		params:  params,
		started: true,
	}

	pcm := []int16{100, -100, 200}
	payload := base64.StdEncoding.EncodeToString(media.PCMToMulaw(pcm))
	require.NoError(t, bridge.handleMedia(&wsMediaPayload{Payload: payload}))

	select {
	case msg := <-rt.InputCh:
		assert.NotEmpty(t, msg.Audio)
	case <-time.After(time.Second):
		t.Fatal("expected buffered input to flush")
	}
}

func TestWebSocketBridge_StopEndsReadLoop(t *testing.T) {
	rt := internalhandler.NewRuntime(logging.NewNop())
	bridge := &WebSocketBridge{logger: logging.NewNop(), runtime: rt}

	stop := bridge.dispatch([]byte(`{"event":"stop"}`))
	assert.True(t, stop)
}

func TestWebSocketBridge_UnknownFrameRoutesToOnOther(t *testing.T) {
	rt := internalhandler.NewRuntime(logging.NewNop())
	bridge := &WebSocketBridge{logger: logging.NewNop(), runtime: rt}

	var got string
	bridge.OnOther(func(raw string) { got = raw })
	bridge.dispatch([]byte(`{"type":"send_input","data":"hi"}`))

	assert.Contains(t, got, "send_input")
}

func TestWebSocketBridge_PingRepliesWithPong(t *testing.T) {
	_, client, cleanup := newBridgePair(t)
	defer cleanup()

	require.NoError(t, client.WriteJSON(map[string]any{"event": "ping"}))

	var got map[string]any
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "pong", got["event"])
}

func TestWebSocketBridge_ReadLoopOverRealConnection(t *testing.T) {
	bridge, client, cleanup := newBridgePair(t)
	defer cleanup()

	require.NoError(t, client.WriteJSON(map[string]any{"event": "start", "websocket_id": "sess-1"}))
	require.Eventually(t, func() bool { return bridge != nil && bridge.SessionID() == "sess-1" }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.WriteJSON(map[string]any{"event": "stop"}))
}
