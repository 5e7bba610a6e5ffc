package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := Load()
	assert.NotEqual(t, err, nil)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "dev-secret")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("WS_PONG_WAIT", "")

	cfg, err := Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.WSSendBuffer, 256)
	assert.Equal(t, cfg.WSPongWait, 60*time.Second)
	assert.Equal(t, len(cfg.AllowedOrigins), 0)
	assert.Equal(t, cfg.RedisURL, "")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "dev-secret")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, https://b.test,")
	t.Setenv("WS_PONG_WAIT", "15s")
	t.Setenv("WS_SEND_BUFFER", "32")
	t.Setenv("SERVER_HOST", "0.0.0.0")
	t.Setenv("SERVER_PORT", "9000")

	cfg, err := Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.AllowedOrigins, []string{"http://a.test", "https://b.test"})
	assert.Equal(t, cfg.WSPongWait, 15*time.Second)
	assert.Equal(t, cfg.WSSendBuffer, 32)
	assert.Equal(t, cfg.Addr(), "0.0.0.0:9000")
}

func TestLoadRejectsNonPositiveBuffer(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "dev-secret")
	t.Setenv("WS_SEND_BUFFER", "0")

	_, err := Load()
	assert.NotEqual(t, err, nil)
}
