package transcribe

import (
	"bytes"
	"context"
	"fmt"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/prerecorded"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/rapidaai/mediastream/internal/logging"
)

// DeepgramTranscriber wraps Deepgram's prerecorded REST transcription for
// the short PCM buffers the stopword detector hands it — the buffer never
// exceeds a couple of seconds, so a websocket streaming session would be
// pure overhead here.
type DeepgramTranscriber struct {
	logger logging.Logger
	client *prerecorded.Client
	model  string
}

func NewDeepgramTranscriber(logger logging.Logger, creds Credentials) (*DeepgramTranscriber, error) {
	apiKey, ok := creds.get("api_key")
	if !ok {
		return nil, fmt.Errorf("transcribe: deepgram credentials missing api_key")
	}
	model := "nova-2"
	if m, ok := creds.get("model"); ok {
		model = m
	}

	client := prerecorded.NewWithDefaults(apiKey)
	return &DeepgramTranscriber{logger: logger, client: client, model: model}, nil
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	req := interfaces.PreRecordedTranscriptionOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: sampleRate,
		Channels:   1,
		Punctuate:  true,
	}

	res, err := d.client.FromStream(ctx, bytes.NewReader(pcmToLittleEndianBytes(pcm)), req)
	if err != nil {
		return "", fmt.Errorf("transcribe: deepgram: %w", err)
	}

	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return res.Results.Channels[0].Alternatives[0].Transcript, nil
}

func (d *DeepgramTranscriber) Close() error { return nil }
