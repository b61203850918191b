package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("NOTIFY_SEND_DELAY", "250ms")
	t.Setenv("SUMMARY_POLL_INTERVAL", "1m")
	t.Setenv("WATCH_EVENTS", " E1, ,E2 ")
	t.Setenv("MAIL_SKIP", "true")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("LEDGER_BACKEND", "memory")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.SendDelay)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, []string{"E1", "E2"}, cfg.WatchEvents)
	assert.True(t, cfg.MailSkip)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, "memory", cfg.LedgerBackend)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("NOTIFY_SEND_DELAY", "soon")
	t.Setenv("SUMMARY_POLL_INTERVAL", "")
	t.Setenv("MAIL_SKIP", "maybe")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("TIMEZONE", "Nowhere/Atlantis")
	t.Setenv("WATCH_EVENTS", "")

	cfg := Load()
	assert.False(t, cfg.Production())
	assert.Equal(t, 500*time.Millisecond, cfg.SendDelay)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.False(t, cfg.MailSkip)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Empty(t, cfg.WatchEvents)
}
