package transcribe

import (
	"context"
	"fmt"

	"github.com/rapidaai/mediastream/internal/logging"
)

// Provider names accepted by New.
const (
	ProviderGoogle   = "google"
	ProviderDeepgram = "deepgram"
	ProviderAzure    = "azure"
)

// New constructs a Transcriber for the named provider using the given
// credentials. It is the single place stopword/session wiring needs to
// know about concrete vendor SDKs.
func New(ctx context.Context, logger logging.Logger, provider string, creds Credentials) (Transcriber, error) {
	switch provider {
	case ProviderGoogle:
		return NewGoogleTranscriber(ctx, logger, creds)
	case ProviderDeepgram:
		return NewDeepgramTranscriber(logger, creds)
	case ProviderAzure:
		return NewAzureTranscriber(logger, creds)
	default:
		return nil, fmt.Errorf("transcribe: unknown provider %q", provider)
	}
}
