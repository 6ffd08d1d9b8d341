package media

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// OpusCodec wraps the browser-facing Opus encode/decode pair WebRTC audio
// tracks negotiate at 48kHz, grounded on the teacher's
// internal/webrtc.GrpcStreamer OpusCodec usage (mediaEngine registers
// Opus/48000/stereo) but backed by the real hraban/opus binding instead of
// the teacher's unexported placeholder.
type OpusCodec struct {
	sampleRate int
	channels   int

	encoder *opus.Encoder
	decoder *opus.Decoder
}

// NewOpusCodec builds an encoder/decoder pair for one direction of one
// session. channels must be 1 or 2.
func NewOpusCodec(sampleRate, channels int) (*OpusCodec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("media: opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("media: opus decoder: %w", err)
	}
	return &OpusCodec{sampleRate: sampleRate, channels: channels, encoder: enc, decoder: dec}, nil
}

// Decode turns one Opus RTP payload into interleaved PCM16 samples.
func (c *OpusCodec) Decode(payload []byte) ([]int16, error) {
	pcm := make([]int16, c.sampleRate/50*c.channels) // 20ms worst case
	n, err := c.decoder.Decode(payload, pcm)
	if err != nil {
		return nil, fmt.Errorf("media: opus decode: %w", err)
	}
	return pcm[:n*c.channels], nil
}

// Encode turns one 20ms frame of interleaved PCM16 into an Opus payload.
func (c *OpusCodec) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, 4000)
	n, err := c.encoder.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("media: opus encode: %w", err)
	}
	return out[:n], nil
}
