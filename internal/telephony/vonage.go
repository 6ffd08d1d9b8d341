package telephony

import (
	"net/http"

	"github.com/gin-gonic/gin"
	vng "github.com/vonage/vonage-go-sdk"

	"github.com/rapidaai/mediastream/internal/config"
	"github.com/rapidaai/mediastream/internal/logging"
)

// vonageAdapter answers Vonage's inbound-call webhook with an NCCO
// connecting the call to our WebSocket handler, matching the teacher's
// vg.Auth application-private-key wiring.
type vonageAdapter struct {
	logger logging.Logger
	auth   vng.Auth
}

func newVonageAdapter(logger logging.Logger, cfg *config.AppConfig) *vonageAdapter {
	auth, err := vng.CreateAuthFromAppPrivateKey(cfg.VonageApplication, []byte(cfg.VonagePrivateKey))
	if err != nil {
		logger.Errorf("telephony: vonage auth: %v", err)
		return &vonageAdapter{logger: logger}
	}
	return &vonageAdapter{logger: logger, auth: auth}
}

type nccoConnectAction struct {
	Action     string           `json:"action"`
	Endpoint   []nccoWSEndpoint `json:"endpoint"`
	ContentType string          `json:"contentType,omitempty"`
}

type nccoWSEndpoint struct {
	Type        string `json:"type"`
	URI         string `json:"uri"`
	ContentType string `json:"content-type"`
}

// HandleIncoming implements the Vonage Voice API answer webhook: respond
// with a JSON NCCO array whose single "connect" action bridges the call
// to our WebSocket handler as 8kHz mu-law audio.
func (a *vonageAdapter) HandleIncoming(c *gin.Context) {
	streamURL := websocketHandlerURL(c.Request.Host, c.Request.TLS != nil)

	ncco := []nccoConnectAction{{
		Action: "connect",
		Endpoint: []nccoWSEndpoint{{
			Type:        "websocket",
			URI:         streamURL,
			ContentType: "audio/l16;rate=8000",
		}},
	}}
	c.JSON(http.StatusOK, ncco)
}

// HandleStatus receives Vonage's call-event callbacks.
func (a *vonageAdapter) HandleStatus(c *gin.Context) {
	a.logger.Infow("telephony: vonage status callback",
		"uuid", c.PostForm("uuid"),
		"status", c.PostForm("status"),
	)
	c.Status(http.StatusNoContent)
}
