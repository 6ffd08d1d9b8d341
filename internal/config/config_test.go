package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	setDefault(v)
	v.Set("SECRET", "test-secret")
	return v
}

func TestGetApplicationConfig_Defaults(t *testing.T) {
	v := newValidViper()

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "mediastream", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "silero", cfg.VAD.Backend)
	assert.Equal(t, 600*time.Millisecond, cfg.VAD.AudioChunkDuration)
}

func TestGetApplicationConfig_MissingRequiredField(t *testing.T) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	setDefault(v)
	// SECRET left empty -> validate:"required" fails.

	_, err := GetApplicationConfig(v)
	assert.Error(t, err)
}

func TestGetApplicationConfig_RejectsOversizedAudioChunkDuration(t *testing.T) {
	v := newValidViper()
	v.Set("VAD__AUDIO_CHUNK_DURATION", 3*time.Second)

	_, err := GetApplicationConfig(v)
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "vad.audio_chunk_duration", cerr.Field)
}
