package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://backend.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://backend.example.com", cfg.BackendURL)
	assert.Equal(t, "backend", cfg.PromptProvider)
	assert.Equal(t, 5*time.Second, cfg.VideoPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.VideoPollTimeout)
	assert.Equal(t, 15*time.Second, cfg.PromptTimeout)
	assert.Equal(t, 1280, cfg.CameraWidth)
	assert.Equal(t, 720, cfg.CameraHeight)
	assert.Equal(t, 3, cfg.CaptureCountdown)
	assert.Equal(t, 90, cfg.JPEGQuality)
	assert.Equal(t, ":8080", cfg.WebAddr)
	assert.Error(t, cfg.RequireTelegram())
}

func TestLoadLegacyBackendVariable(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("FORMULA_E_BACKEND_URL", "http://localhost:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.BackendURL)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing backend",
			env:  map[string]string{"BACKEND_URL": "", "FORMULA_E_BACKEND_URL": ""},
		},
		{
			name: "unknown prompt provider",
			env:  map[string]string{"BACKEND_URL": "http://b", "PROMPT_PROVIDER": "oracle"},
		},
		{
			name: "gemini without key",
			env:  map[string]string{"BACKEND_URL": "http://b", "PROMPT_PROVIDER": "gemini", "GEMINI_API_KEY": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://b")
	t.Setenv("JPEG_QUALITY", "400")
	t.Setenv("CAPTURE_COUNTDOWN", "-2")
	t.Setenv("MAX_CONCURRENT", "0")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.JPEGQuality)
	assert.Equal(t, 0, cfg.CaptureCountdown)
	assert.Equal(t, 1, cfg.MaxConcurrent)
	assert.NoError(t, cfg.RequireTelegram())
}
