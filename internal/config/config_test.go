package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-live-interpreter/internal/config"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte("service:\n  api_key: test-key\n"))
	require.NoError(t, err)

	assert.Equal(t, config.ProviderGemini, cfg.Service.Provider)
	assert.Equal(t, 16000, cfg.Service.InputSampleRate)
	assert.Equal(t, 24000, cfg.Service.OutputSampleRate)
	assert.Equal(t, "[USER_UI]", cfg.Routing.UserTag)
	assert.Equal(t, "[GUEST_UI]", cfg.Routing.GuestTag)
	assert.Equal(t, "en", cfg.Languages.User)
	assert.Equal(t, "th", cfg.Languages.Guest)
	assert.Equal(t, 1500*time.Millisecond, cfg.Reconnect.InitialDelay)
	assert.InDelta(t, 0.01, cfg.Audio.NoiseGateThreshold, 1e-9)
}

func TestParse_OpenAIProvider(t *testing.T) {
	data := []byte(`
service:
  provider: openai
  api_key: sk-test
  voice: alloy
reconnect:
  enabled: false
`)
	cfg, err := config.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 24000, cfg.Service.InputSampleRate)
	assert.Equal(t, "alloy", cfg.Service.Voice)
	assert.False(t, cfg.Reconnect.Enabled)
}

func TestParse_APIKeyFromEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := config.Parse([]byte("log_level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Service.APIKey)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]struct {
		yaml     string
		contains string
	}{
		"unknown_provider": {
			yaml:     "service:\n  provider: azure\n  api_key: k\n",
			contains: "service.provider",
		},
		"missing_key": {
			yaml:     "service:\n  provider: openai\n",
			contains: "api_key",
		},
		"equal_tags": {
			yaml:     "service:\n  api_key: k\nrouting:\n  user_tag: \"[X]\"\n  guest_tag: \"[X]\"\n",
			contains: "must differ",
		},
		"gate_out_of_range": {
			yaml:     "service:\n  api_key: k\naudio:\n  noise_gate_threshold: 2\n",
			contains: "noise_gate_threshold",
		},
		"malformed_yaml": {
			yaml:     "service: [",
			contains: "yaml",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "")
			t.Setenv("OPENAI_API_KEY", "")

			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  api_key: file-key\nlanguages:\n  guest: jp\n"), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.Service.APIKey)
	assert.Equal(t, "jp", cfg.Languages.Guest)

	_, err = config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
