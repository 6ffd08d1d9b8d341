// Package telephony implements the Telephony Bridge (C10): thin,
// no-business-logic adapters that answer an inbound PSTN webhook with
// provider markup pointing back at the shared WebSocket audio bridge
// (spec.md §4.8's send-receive audio flow at 8kHz mu-law), grounded on
// the teacher's per-provider client construction
// (internal/telephony/twilio, internal/telephony/vonage) generalized from
// gRPC-signalled calls to this system's WS-framed ones.
package telephony

import (
	"github.com/gin-gonic/gin"

	"github.com/rapidaai/mediastream/internal/config"
	"github.com/rapidaai/mediastream/internal/engine"
	"github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
)

// EngineFactory mirrors router.EngineFactory — duplicated rather than
// imported to keep telephony independent of the HTTP router package; both
// packages are thin adapters over the same C5/C7 wiring cmd/mediaserver
// performs once at startup.
type EngineFactory func(sink engine.Sink, snapshot engine.SnapshotProvider) *engine.Engine

// Bridge mounts the provider-specific inbound-call routes under
// /telephone/*; the shared WebSocket handler they redirect to
// (/telephone/handler) is mounted by the router package.
type Bridge struct {
	logger logging.Logger
	cfg    *config.AppConfig

	twilio *twilioAdapter
	vonage *vonageAdapter
	sip    *sipAdapter
}

// New builds a Bridge, constructing only the provider adapters whose
// credentials are configured — matching the teacher's pattern of only
// standing up a client when vault credentials resolve. handlerProto and
// newEngine are only consumed by the SIP adapter, whose media path is raw
// RTP rather than the WebSocket the HTTP router already terminates.
func New(logger logging.Logger, cfg *config.AppConfig, handlerProto handler.Handler, newEngine EngineFactory) *Bridge {
	b := &Bridge{logger: logger, cfg: cfg}
	if cfg.TwilioAccountSid != "" && cfg.TwilioAuthToken != "" {
		b.twilio = newTwilioAdapter(logger, cfg)
	}
	if cfg.VonagePrivateKey != "" && cfg.VonageApplication != "" {
		b.vonage = newVonageAdapter(logger, cfg)
	}
	if cfg.SIPListenAddr != "" {
		b.sip = newSIPAdapter(logger, cfg, handlerProto, newEngine)
	}
	return b
}

// Register mounts /telephone/* on the given route group. The WebSocket
// handler itself (`GET /telephone/handler`) is the same audio-only
// send-receive path C8 exposes at /websocket/offer; provider adapters
// only need to redirect the PSTN leg at it.
func (b *Bridge) Register(g *gin.RouterGroup) {
	group := g.Group("/telephone")
	if b.twilio != nil {
		group.POST("/twilio/incoming", b.twilio.HandleIncoming)
		group.POST("/twilio/status", b.twilio.HandleStatus)
	}
	if b.vonage != nil {
		group.GET("/vonage/incoming", b.vonage.HandleIncoming)
		group.POST("/vonage/incoming", b.vonage.HandleIncoming)
		group.POST("/vonage/status", b.vonage.HandleStatus)
	}
	if b.sip != nil {
		go b.sip.ListenAndServe()
	}
}

// Close tears down any long-lived provider listeners (currently only SIP).
func (b *Bridge) Close() error {
	if b.sip != nil {
		return b.sip.Close()
	}
	return nil
}

// websocketHandlerURL derives the wss:// URL the telephone media stream
// should connect to, from the request host, matching TwiML/NCCO's
// requirement for an absolute stream URL.
func websocketHandlerURL(host string, tls bool) string {
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	return scheme + "://" + host + "/telephone/handler"
}
