package transcribe

import (
	"context"
	"fmt"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/common"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"

	"github.com/rapidaai/mediastream/internal/logging"
)

// AzureTranscriber wraps Azure Cognitive Services Speech-to-Text's
// recognize-once API, grounded on the subscription_key/endpoint credential
// shape the teacher's azure transformer package extracts.
type AzureTranscriber struct {
	logger          logging.Logger
	subscriptionKey string
	endpoint        string
	language        string
}

func NewAzureTranscriber(logger logging.Logger, creds Credentials) (*AzureTranscriber, error) {
	key, ok := creds.get("subscription_key")
	if !ok {
		return nil, fmt.Errorf("transcribe: azure credentials missing subscription_key")
	}
	endpoint, ok := creds.get("endpoint")
	if !ok {
		return nil, fmt.Errorf("transcribe: azure credentials missing endpoint")
	}
	language := "en-US"
	if l, ok := creds.get("language"); ok {
		language = l
	}
	return &AzureTranscriber{logger: logger, subscriptionKey: key, endpoint: endpoint, language: language}, nil
}

func (a *AzureTranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	speechConfig, err := speech.NewSpeechConfigFromEndpoint(a.endpoint, a.subscriptionKey)
	if err != nil {
		return "", fmt.Errorf("transcribe: azure speech config: %w", err)
	}
	defer speechConfig.Close()
	speechConfig.SetSpeechRecognitionLanguage(a.language)

	format, err := audio.GetWaveFormatPCM(uint32(sampleRate), 16, 1)
	if err != nil {
		return "", fmt.Errorf("transcribe: azure wave format: %w", err)
	}
	defer format.Close()

	stream, err := audio.CreatePushAudioInputStreamFromFormat(format)
	if err != nil {
		return "", fmt.Errorf("transcribe: azure push stream: %w", err)
	}
	defer stream.Close()

	audioConfig, err := audio.NewAudioConfigFromStreamInput(stream)
	if err != nil {
		return "", fmt.Errorf("transcribe: azure audio config: %w", err)
	}
	defer audioConfig.Close()

	recognizer, err := speech.NewSpeechRecognizerFromConfig(speechConfig, audioConfig)
	if err != nil {
		return "", fmt.Errorf("transcribe: azure recognizer: %w", err)
	}
	defer recognizer.Close()

	if err := stream.Write(pcmToLittleEndianBytes(pcm)); err != nil {
		return "", fmt.Errorf("transcribe: azure stream write: %w", err)
	}
	stream.CloseStream()

	outcome := <-recognizer.RecognizeOnceAsync()
	defer outcome.Close()
	if outcome.Error != nil {
		return "", fmt.Errorf("transcribe: azure recognize: %w", outcome.Error)
	}
	if outcome.Result.Reason != common.RecognizedSpeech {
		return "", nil
	}
	return outcome.Result.Text, nil
}

func (a *AzureTranscriber) Close() error { return nil }
