package transcribe

import (
	"context"
	"encoding/binary"
	"fmt"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"

	"github.com/rapidaai/mediastream/internal/logging"
)

const googleDefaultLanguage = "en-US"

// GoogleTranscriber wraps Google Cloud Speech-to-Text v2's synchronous
// Recognize call, matching the ExplicitDecodingConfig/RecognitionFeatures
// shape the teacher's streaming transformer builds, but used here for the
// short one-shot buffers the stopword detector needs.
type GoogleTranscriber struct {
	logger     logging.Logger
	client     *speech.Client
	recognizer string
	language   string
}

func NewGoogleTranscriber(ctx context.Context, logger logging.Logger, creds Credentials) (*GoogleTranscriber, error) {
	var opts []option.ClientOption
	if key, ok := creds.get("api_key"); ok {
		opts = append(opts, option.WithAPIKey(key))
	}
	if sa, ok := creds.get("service_account_key"); ok {
		opts = append(opts, option.WithCredentialsJSON([]byte(sa)))
	}
	projectID, _ := creds.get("project_id")
	if projectID == "" {
		return nil, fmt.Errorf("transcribe: google credentials missing project_id")
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("transcribe: google client: %w", err)
	}

	language := googleDefaultLanguage
	if l, ok := creds.get("language"); ok {
		language = l
	}

	return &GoogleTranscriber{
		logger:     logger,
		client:     client,
		recognizer: fmt.Sprintf("projects/%s/locations/global/recognizers/_", projectID),
		language:   language,
	}, nil
}

func (g *GoogleTranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: g.recognizer,
		Config: &speechpb.RecognitionConfig{
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(sampleRate),
					AudioChannelCount: 1,
				},
			},
			Features: &speechpb.RecognitionFeatures{
				EnableAutomaticPunctuation: true,
			},
			LanguageCodes: []string{g.language},
			Model:         "short",
		},
		AudioSource: &speechpb.RecognizeRequest_Content{
			Content: pcmToLittleEndianBytes(pcm),
		},
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: google recognize: %w", err)
	}

	var text string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) > 0 {
			text += alts[0].GetTranscript()
		}
	}
	return text, nil
}

func (g *GoogleTranscriber) Close() error {
	return g.client.Close()
}

func pcmToLittleEndianBytes(pcm []int16) []byte {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
