// Package transcribe provides a provider-agnostic speech-to-text boundary
// used by the stopword detector (C3) to turn a short PCM buffer into text.
package transcribe

import "context"

// Transcriber turns 16kHz mono PCM into text. Implementations wrap a
// specific STT vendor SDK; callers never depend on vendor types directly.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
	Close() error
}

// Credentials is a flattened vendor-credential bag, analogous to the vault
// credential maps the teacher's transformer packages extract fields from,
// but without the multi-tenant vault machinery this deployment has no use
// for.
type Credentials map[string]string

func (c Credentials) get(key string) (string, bool) {
	v, ok := c[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
