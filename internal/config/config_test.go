package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "CORS_ALLOWED_ORIGINS", "KISAN_BACKEND_URL", "KISAN_FARMER_ID", "KISAN_DEFAULT_LANGUAGE",
		"SPEECH_APP_ID", "SPEECH_ACCESS_TOKEN", "SPEECH_API_KEY", "SPEECH_AUTO_SPEAK",
		"REDIS_ADDR", "REDIS_DB", "LOG_LEVEL", "LOG_DEVELOPMENT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "http://localhost:8000/api", cfg.Backend.BaseURL)
	assert.Equal(t, "webm", cfg.Backend.AudioFormat)
	assert.Equal(t, "hi", cfg.Locale.DefaultLanguage)
	assert.False(t, cfg.Speech.Enabled)
	assert.True(t, cfg.Speech.AutoSpeak)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://kiosk.local, https://app.example")
	t.Setenv("KISAN_BACKEND_URL", "https://kisan.example/api/")
	t.Setenv("SPEECH_APP_ID", "app")
	t.Setenv("SPEECH_API_KEY", "key")
	t.Setenv("SPEECH_TTS_VOICE_HI", "hi_voice")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://kiosk.local", "https://app.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "https://kisan.example/api", cfg.Backend.BaseURL)
	assert.True(t, cfg.Speech.Enabled)
	assert.Equal(t, "key", cfg.Speech.AccessToken)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "debug", cfg.Log.Level)

	model := cfg.Speech.Model()
	assert.Equal(t, "hi_voice", model.VoiceFor("hi-IN"))
	assert.Equal(t, "en_default", model.VoiceFor("en-IN"))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":              "80 80",
		"KISAN_BACKEND_URL": "not a url",
		"SPEECH_TIMEOUT":    "soon",
		"SPEECH_AUTO_SPEAK": "maybe",
		"REDIS_DB":          "-1",
		"LOG_LEVEL":         "verbose",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
