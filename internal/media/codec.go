package media

import (
	"fmt"

	"github.com/rapidaai/mediastream/internal/logging"
)

// Notifier lets the codec surface warning/error control messages without
// depending on the control channel package directly.
type Notifier interface {
	Warning(text string)
	Error(text string)
}

// AudioCodec is the per-session, per-direction Frame Codec (C1) for audio:
// it resamples, downmixes/upmixes, and re-frames outbound audio according
// to a handler's declared AudioParams.
type AudioCodec struct {
	logger   logging.Logger
	notifier Notifier
	params   AudioParams

	inbound  *Resampler
	outbound *Resampler
	reframer *Reframer
}

// NewAudioCodec builds a codec for one session in one direction pair.
// peerRate is the rate audio arrives at from the peer (e.g. 48000 for
// WebRTC Opus, 8000 for telephone mu-law).
func NewAudioCodec(logger logging.Logger, notifier Notifier, peerRate int, params AudioParams) *AudioCodec {
	channels := 1
	if params.ChannelLayout == Stereo {
		channels = 2
	}
	return &AudioCodec{
		logger:   logger,
		notifier: notifier,
		params:   params,
		inbound:  NewResampler(logger, peerRate, params.SampleRate, channels),
		outbound: NewResampler(logger, params.OutputSampleRate, peerRate, channels),
		reframer: NewReframer(peerFrameSamples(params, peerRate), channels),
	}
}

// peerFrameSamples converts a handler's declared output_frame_samples (at
// its own OutputSampleRate) into the equivalent sample count at peerRate,
// so the re-framer chunks the already-resampled outbound stream by the same
// wall-clock duration the handler intended rather than by a raw sample
// count that only made sense at the handler's own rate.
func peerFrameSamples(params AudioParams, peerRate int) int {
	if params.OutputSampleRate <= 0 || peerRate == params.OutputSampleRate {
		return params.OutputFrameSamples
	}
	return params.OutputFrameSamples * peerRate / params.OutputSampleRate
}

// DecodeInbound normalizes a peer frame into the handler's declared
// input_sample_rate, downmixing/upmixing to the declared layout.
func (c *AudioCodec) DecodeInbound(frame AudioFrame) (AudioFrame, error) {
	if err := c.validateShape(frame); err != nil {
		c.notifier.Error(err.Error())
		return AudioFrame{}, err
	}

	samples := frame.Samples
	samples = c.adaptChannels(samples, frame.Channels)

	resampled, reinit := c.inbound.Resample(samples, frame.SampleRate)
	if reinit {
		c.notifier.Warning("inbound sample rate changed mid-session, codec state reset")
	}

	channels := 1
	if c.params.ChannelLayout == Stereo {
		channels = 2
	}
	return AudioFrame{SampleRate: c.params.SampleRate, Channels: channels, Samples: resampled}, nil
}

// EncodeOutbound resamples handler output back to the peer rate and
// re-frames it into output_frame_samples chunks. Every returned slice is a
// full frame: a partial tail is carried to the next call, and when final is
// true (session end) it is zero-padded to a full frame and appended.
func (c *AudioCodec) EncodeOutbound(frame AudioFrame, peerRate int, final bool) [][]int16 {
	resampled, _ := c.outbound.Resample(frame.Samples, frame.SampleRate)
	frames := c.reframer.Push(resampled)
	if final {
		if tail := c.reframer.Flush(); tail != nil {
			frames = append(frames, tail)
		}
	}
	return frames
}

// DropTail discards any buffered re-framer tail without emitting it.
func (c *AudioCodec) DropTail() {
	c.reframer.Reset()
}

func (c *AudioCodec) adaptChannels(samples []int16, inChannels int) []int16 {
	wantStereo := c.params.ChannelLayout == Stereo
	if inChannels == 2 && !wantStereo {
		return DownmixStereoToMono(samples)
	}
	if inChannels == 1 && wantStereo {
		return UpmixMonoToStereo(samples)
	}
	return samples
}

func (c *AudioCodec) validateShape(frame AudioFrame) error {
	if frame.Channels != 1 && frame.Channels != 2 {
		return fmt.Errorf("invalid audio frame: unsupported channel count %d", frame.Channels)
	}
	if frame.Channels != 0 && len(frame.Samples)%frame.Channels != 0 {
		return fmt.Errorf("invalid audio frame: sample count %d not divisible by channel count %d", len(frame.Samples), frame.Channels)
	}
	return nil
}
