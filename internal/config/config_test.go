package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 60*time.Second, cfg.Jobs.SpeechTimeout)
	assert.Equal(t, 120*time.Second, cfg.Jobs.ImageTimeout)
	assert.Equal(t, time.Second, cfg.Jobs.CloseGrace)
	assert.Empty(t, cfg.Jobs.SpeechURL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, ":9091", cfg.Worker.MetricsAddr)
}

func TestLoadDerivesJobEndpointsFromHost(t *testing.T) {
	t.Setenv("JOBS_HOST", "abc.ngrok.app/")
	t.Setenv("JOBS_AGE_URL", "ws://127.0.0.1:9000/age")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://abc.ngrok.app/ws/tts", cfg.Jobs.SpeechURL)
	assert.Equal(t, "ws://127.0.0.1:9000/age", cfg.Jobs.AgeURL)
	assert.Equal(t, "wss://abc.ngrok.app/ws/background", cfg.Jobs.BackgroundURL)
}

func TestLoadOverridesDurations(t *testing.T) {
	t.Setenv("JOBS_SPEECH_TIMEOUT", "5s")
	t.Setenv("JOBS_CLOSE_GRACE", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Jobs.SpeechTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.CloseGrace)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		errString string
	}{
		{
			name:      "http job url",
			env:       map[string]string{"JOBS_SPEECH_URL": "https://example.com/ws/tts"},
			errString: "speech job url must use ws or wss scheme",
		},
		{
			name:      "zero image timeout",
			env:       map[string]string{"JOBS_IMAGE_TIMEOUT": "0s"},
			errString: "jobs image timeout must be positive",
		},
		{
			name:      "negative port",
			env:       map[string]string{"API_PORT": "-1"},
			errString: "api port must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
			assert.Nil(t, cfg)
		})
	}
}

func TestValidateGateway(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	err = ValidateGateway(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minio access key id is required")

	cfg.MinIO.AccessKeyID = "key"
	cfg.MinIO.SecretAccessKey = "secret"
	cfg.Auth.PublicKeyPath = "/etc/portrait/id_token.pub"
	assert.NoError(t, ValidateGateway(cfg))
}
