package media

import "github.com/zaf/g711"

// MulawToPCM decodes 8kHz mu-law bytes into linear PCM16 samples, used by
// the telephone bridge (spec §4.8).
func MulawToPCM(mulaw []byte) []int16 {
	decoded := g711.DecodeUlaw(mulaw)
	out := make([]int16, len(decoded)/2)
	for i := range out {
		out[i] = int16(decoded[2*i]) | int16(decoded[2*i+1])<<8
	}
	return out
}

// PCMToMulaw encodes linear PCM16 samples into 8kHz mu-law bytes.
func PCMToMulaw(pcm []int16) []byte {
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		raw[2*i] = byte(s)
		raw[2*i+1] = byte(s >> 8)
	}
	return g711.EncodeUlaw(raw)
}
