// Package config loads and validates the media server's application
// configuration from environment variables / a .env file, following the
// same viper + validator pattern used across this codebase's other
// services.
package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ICEServer mirrors the client-visible rtc_configuration entry (spec §6).
type ICEServer struct {
	URLs       []string `mapstructure:"urls" validate:"required"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// VADConfig holds the C2 VAD Gate thresholds (spec §4.2), enumerated with
// the same defaults the specification documents.
type VADConfig struct {
	Backend                string        `mapstructure:"backend" validate:"required,oneof=silero rms"`
	AudioChunkDuration     time.Duration `mapstructure:"audio_chunk_duration"`
	StartedTalkingThresh   time.Duration `mapstructure:"started_talking_threshold"`
	SpeechThresh           time.Duration `mapstructure:"speech_threshold"`
	MinSpeechDurationMs    int           `mapstructure:"min_speech_duration_ms"`
	MinSilenceDurationMs   int           `mapstructure:"min_silence_duration_ms"`
	ModelThreshold         float32       `mapstructure:"model_threshold"`
	WindowSizeSamples      int           `mapstructure:"window_size_samples"`
	SpeechPadMs            int           `mapstructure:"speech_pad_ms"`
	SileroModelPath        string        `mapstructure:"silero_model_path"`
}

// StopwordConfig holds C3 configuration.
type StopwordConfig struct {
	StopWords     []string      `mapstructure:"stop_words"`
	WindowSeconds time.Duration `mapstructure:"window_seconds"`
}

// AppConfig is the top-level media server configuration.
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	Secret   string `mapstructure:"secret" validate:"required"`

	RoutePrefix       string      `mapstructure:"route_prefix"`
	InputHookPath     string      `mapstructure:"input_hook_path"`
	OutputHookPath    string      `mapstructure:"output_hook_path"`
	ConcurrencyLimit  int         `mapstructure:"concurrency_limit"`
	TimeLimitSeconds  int         `mapstructure:"time_limit_seconds"`
	ICEServers        []ICEServer `mapstructure:"ice_servers"`
	AudioChunkMaxSecs float64     `mapstructure:"audio_chunk_duration_max_seconds"`

	VAD      VADConfig      `mapstructure:"vad" validate:"required"`
	Stopword StopwordConfig `mapstructure:"stopword"`

	TwilioAccountSid  string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken   string `mapstructure:"twilio_auth_token"`
	VonagePrivateKey  string `mapstructure:"vonage_private_key"`
	VonageApplication string `mapstructure:"vonage_application_id"`
	SIPListenAddr     string `mapstructure:"sip_listen_addr"`

	// ReplyMode selects the C5 turn-taking engine flavor cmd/mediaserver
	// wires per session: "none" registers the raw echo Handler directly
	// (no VAD/STT involved), "pause"/"stopwords" build a ReplyOnPause or
	// ReplyOnStopwords engine in front of it.
	ReplyMode          string `mapstructure:"reply_mode" validate:"omitempty,oneof=none pause stopwords"`
	TranscribeProvider string `mapstructure:"transcribe_provider" validate:"omitempty,oneof=google deepgram azure"`
	TranscribeAPIKey   string `mapstructure:"transcribe_api_key"`
	TranscribeEndpoint string `mapstructure:"transcribe_endpoint"`
	TranscribeLanguage string `mapstructure:"transcribe_language"`
}

// InitConfig wires viper the same way api/integration-api/config does:
// double-read so SetDefault values are visible after the first pass, an
// ENV_PATH override, and AutomaticEnv for container deployments.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()
	if err := vConfig.ReadInConfig(); err != nil {
		log.Printf("no config file found, relying on env variables and defaults: %v", err)
	}

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "mediastream")
	v.SetDefault("VERSION", "0.1.0")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SECRET", "")
	v.SetDefault("ROUTE_PREFIX", "")
	v.SetDefault("INPUT_HOOK_PATH", "/input")
	v.SetDefault("OUTPUT_HOOK_PATH", "/output")
	v.SetDefault("CONCURRENCY_LIMIT", 0)
	v.SetDefault("TIME_LIMIT_SECONDS", 0)
	v.SetDefault("AUDIO_CHUNK_DURATION_MAX_SECONDS", 2.0)

	v.SetDefault("VAD__BACKEND", "silero")
	v.SetDefault("VAD__AUDIO_CHUNK_DURATION", 600*time.Millisecond)
	v.SetDefault("VAD__STARTED_TALKING_THRESHOLD", 200*time.Millisecond)
	v.SetDefault("VAD__SPEECH_THRESHOLD", 100*time.Millisecond)
	v.SetDefault("VAD__MIN_SPEECH_DURATION_MS", 250)
	v.SetDefault("VAD__MIN_SILENCE_DURATION_MS", 2000)
	v.SetDefault("VAD__MODEL_THRESHOLD", 0.5)
	v.SetDefault("VAD__WINDOW_SIZE_SAMPLES", 1024)
	v.SetDefault("VAD__SPEECH_PAD_MS", 400)
	v.SetDefault("VAD__SILERO_MODEL_PATH", "")

	v.SetDefault("STOPWORD__WINDOW_SECONDS", 10*time.Second)

	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("VONAGE_PRIVATE_KEY", "")
	v.SetDefault("VONAGE_APPLICATION_ID", "")
	v.SetDefault("SIP_LISTEN_ADDR", "")

	v.SetDefault("REPLY_MODE", "none")
	v.SetDefault("TRANSCRIBE_PROVIDER", "")
	v.SetDefault("TRANSCRIBE_API_KEY", "")
	v.SetDefault("TRANSCRIBE_ENDPOINT", "")
	v.SetDefault("TRANSCRIBE_LANGUAGE", "")
}

// GetApplicationConfig unmarshals and validates the config, per spec.md §9's
// resolved audio_chunk_duration bound: values above AudioChunkMaxSecs are
// rejected rather than silently clamped, since a silent clamp would hide a
// misconfiguration that changes barge-in latency.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	if cfg.AudioChunkMaxSecs <= 0 {
		cfg.AudioChunkMaxSecs = 2.0
	}
	if cfg.VAD.AudioChunkDuration.Seconds() > cfg.AudioChunkMaxSecs {
		return nil, &ConfigError{Field: "vad.audio_chunk_duration", Reason: "exceeds audio_chunk_duration_max_seconds"}
	}
	return &cfg, nil
}

// ConfigError reports a semantic (not struct-tag) validation failure.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Reason
}
