package media

import (
	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/rapidaai/mediastream/internal/logging"
)

// Resampler holds per-direction, per-session resampling state so that
// successive frames resample without clicks, per spec §4.1. State is
// re-initialised on a sample-rate mismatch between successive inbound
// frames, matching CreateVoiceRequest's resample-with-fallback pattern in
// the source telephony base streamer.
type Resampler struct {
	logger   logging.Logger
	fromRate int
	toRate   int
	channels int
	engine   *resampler.Resampler
}

// NewResampler constructs a Resampler for one direction of one session.
func NewResampler(logger logging.Logger, fromRate, toRate, channels int) *Resampler {
	r := &Resampler{logger: logger, channels: channels}
	r.reinit(fromRate, toRate)
	return r
}

func (r *Resampler) reinit(fromRate, toRate int) {
	r.fromRate = fromRate
	r.toRate = toRate
	r.engine = resampler.New(fromRate, toRate, r.channels)
}

// Resample converts pcm from the resampler's configured input rate to its
// output rate. If sourceRate differs from the rate this Resampler was last
// used with, state is reinitialised and reinit is reported so the caller
// can emit the spec-mandated warning control message.
func (r *Resampler) Resample(pcm []int16, sourceRate int) (out []int16, reinitialised bool) {
	if sourceRate != 0 && sourceRate != r.fromRate {
		r.logger.Warnw("resampler input rate changed, reinitialising state", "was", r.fromRate, "now", sourceRate)
		r.reinit(sourceRate, r.toRate)
		reinitialised = true
	}
	if r.fromRate == r.toRate {
		return pcm, reinitialised
	}
	out, err := r.engine.Resample(pcm)
	if err != nil {
		r.logger.Warnw("resample failed, passing audio through unresampled", "error", err)
		return pcm, reinitialised
	}
	return out, reinitialised
}

// DownmixStereoToMono averages channel pairs.
func DownmixStereoToMono(in []int16) []int16 {
	out := make([]int16, len(in)/2)
	for i := range out {
		l, r := int32(in[2*i]), int32(in[2*i+1])
		out[i] = int16((l + r) / 2)
	}
	return out
}

// UpmixMonoToStereo duplicates each sample across both channels.
func UpmixMonoToStereo(in []int16) []int16 {
	out := make([]int16, len(in)*2)
	for i, s := range in {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}
