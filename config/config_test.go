package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socketstream-server/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.Config{
		Mode:       domain.ModeTCPIP,
		IP:         "127.0.0.1",
		Port:       1234,
		PipeName:   "octproz",
		SendHeader: true,
	}, cfg.Stream)
	assert.Equal(t, "127.0.0.1:8081", cfg.AdminAddr)
	assert.False(t, cfg.Pattern.Enabled)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STREAM_MODE", "WebSocket")
	t.Setenv("STREAM_IP", "0.0.0.0")
	t.Setenv("STREAM_PORT", "9002")
	t.Setenv("STREAM_SEND_HEADER", "false")
	t.Setenv("STREAM_AUTO_CONNECT", "true")
	t.Setenv("PATTERN_ENABLED", "1")
	t.Setenv("PATTERN_FPS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.ModeWebSocket, cfg.Stream.Mode)
	assert.Equal(t, "0.0.0.0", cfg.Stream.IP)
	assert.Equal(t, uint16(9002), cfg.Stream.Port)
	assert.False(t, cfg.Stream.SendHeader)
	assert.True(t, cfg.Stream.AutoConnect)
	assert.True(t, cfg.Pattern.Enabled)
	assert.Equal(t, 10, cfg.Pattern.FPS)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown mode", key: "STREAM_MODE", value: "carrier-pigeon"},
		{name: "port out of range", key: "STREAM_PORT", value: "70000"},
		{name: "port not numeric", key: "STREAM_PORT", value: "http"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
