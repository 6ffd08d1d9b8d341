// Command mediaserver is the media routing server's process entrypoint:
// config -> logger -> registry -> session manager -> C5 engine wiring ->
// telephony bridge -> gin engine -> http.Server, with graceful shutdown on
// SIGINT/SIGTERM, mirroring the pack's cmd/-as-composition-root convention
// (grounded on dkeye-Voice's cmd/server/main.go, the only complete runnable
// entrypoint the pack shows for a WebRTC media server).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/mediastream/internal/config"
	"github.com/rapidaai/mediastream/internal/engine"
	"github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
	"github.com/rapidaai/mediastream/internal/registry"
	"github.com/rapidaai/mediastream/internal/router"
	"github.com/rapidaai/mediastream/internal/session"
	"github.com/rapidaai/mediastream/internal/stopword"
	"github.com/rapidaai/mediastream/internal/telephony"
	"github.com/rapidaai/mediastream/internal/transcribe"
	"github.com/rapidaai/mediastream/internal/vad"
)

const echoQueueDepth = 32

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediaserver: load config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediaserver: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogLevel == "debug")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediaserver: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.Close(shutdownCtx); err != nil {
			logger.Warnf("mediaserver: registry teardown: %v", err)
		}
	}()

	audioParams := media.AudioParams{
		SampleRate:         vad.SampleRate,
		OutputSampleRate:   vad.SampleRate,
		OutputFrameSamples: vad.SampleRate / 50, // 20ms frames
		ChannelLayout:      media.Mono,
	}
	handlerProto := handler.NewEchoHandler(audioParams, echoQueueDepth)

	sessions := session.NewManager(logger, cfg.ConcurrencyLimit)

	newEngine, err := buildEngineFactory(ctx, logger, reg, cfg)
	if err != nil {
		logger.Fatalf("mediaserver: build reply engine: %v", err)
	}

	tel := telephony.New(logger, cfg, handlerProto, telephony.EngineFactory(newEngine))

	rt := router.New(logger, cfg, sessions, handlerProto, router.EngineFactory(newEngine), tel)

	g := gin.New()
	g.Use(gin.Recovery())
	rt.Register(g)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: g,
	}

	go func() {
		logger.Infof("mediaserver: listening on %s (reply_mode=%s)", srv.Addr, cfg.ReplyMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("mediaserver: server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("mediaserver: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("mediaserver: forced shutdown: %v", err)
	}
	sessions.CloseAll()
	if err := tel.Close(); err != nil {
		logger.Warnf("mediaserver: telephony teardown: %v", err)
	}
	logger.Info("mediaserver: exited")
}

// buildEngineFactory returns nil (raw-handler mode, no VAD/turn-taking) when
// cfg.ReplyMode is "none", otherwise a router.EngineFactory-shaped closure
// backed by a fresh per-session Trigger sharing the registry's singleton
// scorer/transcriber. A Gate/Detector is not safe for concurrent sessions
// (single-writer window state per spec §4.2/§4.3), so only the expensive
// leaf — the Scorer or Transcriber — is a process-wide singleton; the
// closure builds a fresh Gate/Detector per call.
func buildEngineFactory(ctx context.Context, logger logging.Logger, reg *registry.Registry, cfg *config.AppConfig) (func(engine.Sink, engine.SnapshotProvider) *engine.Engine, error) {
	if cfg.ReplyMode == "" || cfg.ReplyMode == "none" {
		return nil, nil
	}

	scorerAny, err := reg.Get("vad_scorer", func() (any, error) { return buildScorer(cfg) })
	if err != nil {
		return nil, fmt.Errorf("vad scorer: %w", err)
	}
	scorer := scorerAny.(vad.Scorer)

	gateCfg := vad.Config{
		AudioChunkDuration:   cfg.VAD.AudioChunkDuration,
		StartedTalkingThresh: cfg.VAD.StartedTalkingThresh,
		SpeechThresh:         cfg.VAD.SpeechThresh,
		Options: vad.Options{
			Threshold:            cfg.VAD.ModelThreshold,
			MinSpeechDurationMs:  cfg.VAD.MinSpeechDurationMs,
			MinSilenceDurationMs: cfg.VAD.MinSilenceDurationMs,
			WindowSizeSamples:    cfg.VAD.WindowSizeSamples,
			SpeechPadMs:          cfg.VAD.SpeechPadMs,
		},
	}

	switch cfg.ReplyMode {
	case "pause":
		return func(sink engine.Sink, snapshot engine.SnapshotProvider) *engine.Engine {
			gate := vad.NewGate(scorer, gateCfg)
			return engine.NewReplyOnPause(ctx, logger, gate, echoReply, sink, snapshot)
		}, nil

	case "stopwords":
		transcriberAny, err := reg.Get("transcriber", func() (any, error) {
			return transcribe.New(ctx, logger, cfg.TranscribeProvider, transcribeCredentials(cfg))
		})
		if err != nil {
			return nil, fmt.Errorf("transcriber: %w", err)
		}
		transcriber := transcriberAny.(transcribe.Transcriber)
		matcher := stopword.NewMatcher(cfg.Stopword.StopWords)

		detectorCfg := stopword.Config{
			AudioChunkDuration:   cfg.VAD.AudioChunkDuration,
			WindowSeconds:        cfg.Stopword.WindowSeconds.Seconds(),
			StartedTalkingThresh: cfg.VAD.StartedTalkingThresh,
			SpeechThresh:         cfg.VAD.SpeechThresh,
			VADOptions:           gateCfg.Options,
		}
		return func(sink engine.Sink, snapshot engine.SnapshotProvider) *engine.Engine {
			detector := stopword.NewDetector(transcriber, matcher, scorer, detectorCfg)
			return engine.NewReplyOnStopwords(ctx, logger, detector, echoReply, sink, snapshot)
		}, nil

	default:
		return nil, fmt.Errorf("unknown reply_mode %q", cfg.ReplyMode)
	}
}

func buildScorer(cfg *config.AppConfig) (vad.Scorer, error) {
	switch cfg.VAD.Backend {
	case "silero":
		return vad.NewSileroScorer(cfg.VAD.SileroModelPath, vad.Options{
			Threshold:            cfg.VAD.ModelThreshold,
			MinSpeechDurationMs:  cfg.VAD.MinSpeechDurationMs,
			MinSilenceDurationMs: cfg.VAD.MinSilenceDurationMs,
			WindowSizeSamples:    cfg.VAD.WindowSizeSamples,
			SpeechPadMs:          cfg.VAD.SpeechPadMs,
		})
	case "rms":
		// No config knobs for the fallback backend yet; these thresholds are
		// the ones NeboLoop's RMS reference settled on.
		return vad.NewRMSScorer(0.015, 0.008, 160), nil
	default:
		return nil, fmt.Errorf("unknown vad backend %q", cfg.VAD.Backend)
	}
}

// transcribeCredentials maps the flat config fields onto the provider-
// specific credential keys transcribe.New's constructors expect (spec §9's
// vendor-credential passthrough).
func transcribeCredentials(cfg *config.AppConfig) transcribe.Credentials {
	creds := transcribe.Credentials{}
	switch cfg.TranscribeProvider {
	case transcribe.ProviderAzure:
		creds["subscription_key"] = cfg.TranscribeAPIKey
		creds["endpoint"] = cfg.TranscribeEndpoint
	case transcribe.ProviderDeepgram, transcribe.ProviderGoogle:
		creds["api_key"] = cfg.TranscribeAPIKey
	}
	if cfg.TranscribeLanguage != "" {
		creds["language"] = cfg.TranscribeLanguage
	}
	return creds
}

// echoReply is the default ReplyFunc when no LLM/TTS pipeline is wired in:
// it plays the detected utterance straight back, the engine-mode analogue
// of handler.EchoHandler, so ReplyOnPause/ReplyOnStopwords are exercisable
// out of the box.
func echoReply(ctx context.Context, utterance []int16, _ []any) <-chan engine.Emission {
	ch := make(chan engine.Emission, 1)
	go func() {
		defer close(ch)
		frame := media.AudioFrame{SampleRate: vad.SampleRate, Channels: 1, Samples: utterance}
		select {
		case ch <- engine.Emission{Yield: engine.Yield{Kind: engine.YieldAudio, Audio: &frame}}:
		case <-ctx.Done():
		}
	}()
	return ch
}
