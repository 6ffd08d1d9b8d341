// Package router implements the Public API Surface (C9): a thin
// gin-gonic adapter mounting the WebRTC/WebSocket signalling, control
// input/output hooks, and telephone bridge routes on a host app, matching
// the teacher's router/*.go route-group style (workflow_routers.
// HealthCheckRoutes et al.) — no business logic lives here.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/mediastream/internal/config"
	"github.com/rapidaai/mediastream/internal/control"
	"github.com/rapidaai/mediastream/internal/engine"
	"github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
	"github.com/rapidaai/mediastream/internal/session"
	"github.com/rapidaai/mediastream/internal/signalling"
	"github.com/rapidaai/mediastream/internal/telephony"
)

// EngineFactory builds a fresh C5 engine bound to one session's sink and
// input snapshot — supplied by cmd/mediaserver, since the choice between
// ReplyOnPause/ReplyOnStopwords and the VAD/Transcriber wiring is process
// configuration, not routing.
type EngineFactory func(sink engine.Sink, snapshot engine.SnapshotProvider) *engine.Engine

// Router wires the C9 HTTP/WebSocket surface onto a gin.Engine.
type Router struct {
	logger       logging.Logger
	cfg          *config.AppConfig
	sessions     *session.Manager
	handlerProto handler.Handler
	newEngine    EngineFactory
	telephony    *telephony.Bridge

	upgrader websocket.Upgrader
}

func New(logger logging.Logger, cfg *config.AppConfig, sessions *session.Manager, handlerProto handler.Handler, newEngine EngineFactory, tel *telephony.Bridge) *Router {
	return &Router{
		logger:       logger,
		cfg:          cfg,
		sessions:     sessions,
		handlerProto: handlerProto,
		newEngine:    newEngine,
		telephony:    tel,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Register mounts every C9 route under cfg.RoutePrefix on engine.
func (rt *Router) Register(g *gin.Engine) {
	group := g.Group(rt.cfg.RoutePrefix)

	group.GET("/healthz", rt.handleHealthz)
	group.GET("/readiness", rt.handleReadiness)

	group.POST("/webrtc/offer", rt.handleWebRTCOffer)
	group.GET("/websocket/offer", rt.handleWebSocketOffer)
	group.GET("/telephone/handler", rt.handleWebSocketOffer)

	group.POST(rt.cfg.InputHookPath, rt.handleInputHook)
	group.GET(rt.cfg.OutputHookPath, rt.handleOutputHook)

	if rt.telephony != nil {
		rt.telephony.Register(group)
	}
}

func (rt *Router) handleHealthz(c *gin.Context)   { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
func (rt *Router) handleReadiness(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ready"}) }

type offerRequest struct {
	SDP      string `json:"sdp" binding:"required"`
	Type     string `json:"type" binding:"required"`
	WebrtcID string `json:"webrtc_id"`
}

// handleWebRTCOffer implements spec.md §4.8/§6's `POST /webrtc/offer`:
// admission, peer connection negotiation, and session registration.
func (rt *Router) handleWebRTCOffer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "failed", "meta": gin.H{"error": "invalid_request"}})
		return
	}

	audioParams := rt.handlerProto.Properties()
	rtOpts := []handler.Option{
		handler.WithInputAudioConfig(handler.AudioConfig{SampleRate: audioParams.SampleRate, Format: handler.FormatPCM16, Channels: 1}),
		handler.WithOutputAudioConfig(handler.AudioConfig{SampleRate: audioParams.OutputSampleRate, Format: handler.FormatPCM16, Channels: 1}),
	}
	runtime := handler.NewRuntime(rt.logger, rtOpts...)

	peer, err := signalling.NewPeerConnection(rt.logger, rt.cfg, runtime, audioParams, signalling.ModalityAudio, signalling.ModeSendReceive)
	if err != nil {
		rt.logger.Errorf("router: build peer connection: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "failed", "meta": gin.H{"error": "negotiation_failed"}})
		return
	}

	sess, err := rt.sessions.Admit(req.WebrtcID, rt.logger, runtime, nil, nil)
	if err != nil {
		peer.Close()
		rt.respondAdmissionFailure(c, err)
		return
	}

	channel := &lazyDataChannel{logger: rt.logger, peer: peer}
	sess.Control = channel
	sink := control.NewEngineSink(rt.logger, channel, runtime, encodePCM)
	runtime.WatchInboundStall(handler.InboundStallTimeout, func() {
		sink.EmitControl(control.KindWarning, "no inbound audio for 30s")
	})

	driver := rt.handlerProto
	if rt.newEngine != nil {
		sess.Engine = rt.newEngine(sink, sess.InputSnapshot)
		driver = sess.Engine.AsHandler(audioParams)
	}

	answerSDP, err := peer.Negotiate(c.Request.Context(), signalling.Offer{SDP: req.SDP, Type: req.Type, WebrtcID: req.WebrtcID})
	if err != nil {
		errKey := "negotiation_failed"
		if errors.Is(err, context.DeadlineExceeded) {
			errKey = "connection_timeout"
			sink.EmitControl(control.KindConnectionTimeout, "negotiation exceeded 5s")
		}
		rt.sessions.Evict(sess.ID)
		peer.Close()
		c.JSON(http.StatusOK, gin.H{"status": "failed", "meta": gin.H{"error": errKey}})
		return
	}

	handlerSession := handler.NewSession(rt.logger, driver, runtime, decodePCM, encodePCM)
	go handlerSession.Run(runtime.Ctx)

	rt.sessions.MarkConnected(sess.ID)
	if rt.cfg.TimeLimitSeconds > 0 {
		rt.sessions.ArmTimeLimit(sess.ID, secondsToDuration(rt.cfg.TimeLimitSeconds))
	}

	c.JSON(http.StatusOK, signalling.Answer{SDP: answerSDP, Type: "answer", WebrtcID: sess.ID})
}

func (rt *Router) respondAdmissionFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrConcurrencyLimitReached):
		c.JSON(http.StatusOK, gin.H{"status": "failed", "meta": gin.H{"error": "concurrency_limit_reached", "limit": rt.cfg.ConcurrencyLimit}})
	case errors.Is(err, session.ErrSessionIDTaken):
		c.JSON(http.StatusOK, gin.H{"status": "failed", "meta": gin.H{"error": "negotiation_failed"}})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "failed", "meta": gin.H{"error": "negotiation_failed"}})
	}
}

// handleWebSocketOffer implements the audio-only WebSocket path (spec
// §4.8's second signalling flow), used directly by browsers without
// WebRTC support and by the telephone bridge.
func (rt *Router) handleWebSocketOffer(c *gin.Context) {
	conn, err := rt.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rt.logger.Warnf("router: websocket upgrade: %v", err)
		return
	}

	audioParams := rt.handlerProto.Properties()
	runtime := handler.NewRuntime(rt.logger,
		handler.WithInputAudioConfig(handler.AudioConfig{SampleRate: audioParams.SampleRate, Format: handler.FormatPCM16, Channels: 1}),
		handler.WithOutputAudioConfig(handler.AudioConfig{SampleRate: audioParams.OutputSampleRate, Format: handler.FormatPCM16, Channels: 1}),
	)

	bridge := signalling.NewWebSocketBridge(rt.logger, conn, runtime, audioParams)
	channel := control.NewInlineSocketTransport(rt.logger, conn)
	sink := control.NewEngineSink(rt.logger, channel, runtime, encodePCM)
	runtime.WatchInboundStall(handler.InboundStallTimeout, func() {
		sink.EmitControl(control.KindWarning, "no inbound audio for 30s")
	})

	// The handler driver depends on whether admission (which needs the
	// session's InputSnapshot) succeeds, so its construction and the
	// receive/emit loop it drives are deferred until "start" arrives —
	// no "media" frame reaches the runtime before then anyway.
	var sess *session.Session
	bridge.OnStart(func(websocketID string) {
		s, err := rt.sessions.Admit(websocketID, rt.logger, runtime, nil, channel)
		if err != nil {
			runtime.PushDisconnection(handler.DisconnectionSystem)
			return
		}
		sess = s
		rt.sessions.MarkConnected(s.ID)

		driver := rt.handlerProto
		if rt.newEngine != nil {
			s.Engine = rt.newEngine(sink, s.InputSnapshot)
			driver = s.Engine.AsHandler(audioParams)
		}
		handlerSession := handler.NewSession(rt.logger, driver, runtime, decodePCM, encodePCM)
		go handlerSession.Run(runtime.Ctx)
	})
	if dispatcher, ok := channel.(control.Dispatcher); ok {
		bridge.OnOther(dispatcher.Dispatch)
	}

	go bridge.WriteLoop()

	bridge.ReadLoop()
	if sess != nil {
		rt.sessions.Evict(sess.ID)
	}
}

type inputHookBody struct {
	WebrtcID string `json:"webrtc_id" binding:"required"`
	Inputs   []any  `json:"inputs"`
}

// handleInputHook implements `POST <input_hook>` (spec §6): atomically
// replaces the addressed session's input snapshot.
func (rt *Router) handleInputHook(c *gin.Context) {
	var body inputHookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	sess, ok := rt.sessions.Get(body.WebrtcID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_session"})
		return
	}
	sess.SetInput(body.Inputs)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleOutputHook implements `GET <output_hook>` (spec §6): a
// server-sent-events stream of queued AdditionalOutputs.
func (rt *Router) handleOutputHook(c *gin.Context) {
	webrtcID := c.Query("webrtc_id")
	sess, ok := rt.sessions.Get(webrtcID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_session"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	stream := sess.OutputStream(c.Request.Context())
	c.Stream(func(w gin.ResponseWriter) bool {
		v, ok := <-stream
		if !ok {
			return false
		}
		body, err := json.Marshal(v)
		if err != nil {
			return true
		}
		c.SSEvent("message", string(body))
		return true
	})
}

func decodePCM(b []byte) media.AudioFrame {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return media.AudioFrame{SampleRate: 16000, Channels: 1, Samples: samples}
}

func encodePCM(f media.AudioFrame) []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// lazyDataChannel adapts a WebRTC PeerSession to control.Channel, since
// the data channel itself may not have opened yet when the sink is built
// at negotiation time.
type lazyDataChannel struct {
	logger logging.Logger
	peer   *signalling.PeerSession
	onRecv func(string)
}

func (l *lazyDataChannel) Send(msg control.Message) error {
	dc := l.peer.DataChannel()
	if dc == nil {
		return errors.New("router: data channel not yet open")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return dc.SendText(string(body))
}

func (l *lazyDataChannel) OnReceive(fn func(string)) { l.onRecv = fn }
func (l *lazyDataChannel) Close() error               { return nil }
