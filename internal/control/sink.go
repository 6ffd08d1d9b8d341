package control

import (
	"encoding/json"

	"github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
)

// EngineSink adapts a Channel and a handler.Runtime to engine.Sink,
// without internal/engine needing to import either concrete package.
// Audio/video frames are encoded by the caller-supplied Encoder before
// being pushed onto the runtime's OutputCh.
type EngineSink struct {
	logger  logging.Logger
	channel Channel
	runtime *handler.Runtime
	encode  func(media.AudioFrame) []byte
}

func NewEngineSink(logger logging.Logger, channel Channel, runtime *handler.Runtime, encode func(media.AudioFrame) []byte) *EngineSink {
	return &EngineSink{logger: logger, channel: channel, runtime: runtime, encode: encode}
}

func (s *EngineSink) EmitControl(kind Kind, data any) {
	if err := s.channel.Send(New(kind, data)); err != nil {
		s.logger.Warnf("control: send %s failed: %v", kind, err)
	}
}

func (s *EngineSink) EmitAudio(frame media.AudioFrame) {
	s.runtime.PushOutput(&handler.Outbound{Audio: s.encode(frame)})
}

func (s *EngineSink) EmitVideo(media.VideoFrame) {
	// Video passthrough is transport-specific (a WebRTC track write, not a
	// buffered byte stream) and is wired at the signalling layer, not here.
}

func (s *EngineSink) EmitExtra(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Warnf("control: marshal extra output failed: %v", err)
		return
	}
	s.EmitControl(KindLog, string(body))
}

func (s *EngineSink) FlushOutbound() {
	s.runtime.ClearOutputBuffer()
}
