package telephony

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/twiml"

	"github.com/rapidaai/mediastream/internal/config"
	"github.com/rapidaai/mediastream/internal/logging"
)

// twilioAdapter answers Twilio's inbound-call webhook with TwiML that
// opens a bidirectional <Stream> back at our WebSocket handler, matching
// the teacher's twl.Client account-credential wiring but targeting our
// own media endpoint instead of a gRPC talk session.
type twilioAdapter struct {
	logger logging.Logger
	client *twilio.RestClient
}

func newTwilioAdapter(logger logging.Logger, cfg *config.AppConfig) *twilioAdapter {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSid,
		Password: cfg.TwilioAuthToken,
	})
	return &twilioAdapter{logger: logger, client: client}
}

// HandleIncoming implements the Twilio Voice webhook contract: respond
// 200 with TwiML pointing a <Connect><Stream> at our WebSocket handler.
func (a *twilioAdapter) HandleIncoming(c *gin.Context) {
	streamURL := websocketHandlerURL(c.Request.Host, c.Request.TLS != nil)

	stream := &twiml.VoiceStream{Url: streamURL}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	body, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		a.logger.Errorf("telephony: build twiml: %v", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Data(http.StatusOK, "text/xml", []byte(body))
}

// HandleStatus receives Twilio's call-status callbacks. No session state
// is kept here — status changes are logged for observability only, per
// spec §4.9's "thin adapter, no business logic" rule.
func (a *twilioAdapter) HandleStatus(c *gin.Context) {
	a.logger.Infow("telephony: twilio status callback",
		"call_sid", c.PostForm("CallSid"),
		"call_status", c.PostForm("CallStatus"),
	)
	c.Status(http.StatusNoContent)
}
