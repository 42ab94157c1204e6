package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Pipeline.RateLimitMessages)
	assert.Equal(t, 300*time.Second, cfg.Pipeline.RateLimitWindow)
	assert.Equal(t, 2, cfg.Pipeline.MinMessageLength)
	assert.Equal(t, 1000, cfg.Pipeline.MaxMessageLength)
	assert.True(t, cfg.Pipeline.SpamDetectionEnabled)
	assert.Equal(t, 0.7, cfg.AI.Temperature)
	assert.Equal(t, 3, cfg.AI.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.Equal(t, 0.3, cfg.Responder.TemplateProbability)
	assert.Equal(t, "friendly", cfg.Responder.ResponseStyle)
	require.NoError(t, cfg.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("RATE_LIMIT_MESSAGES", "7")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "60")
	t.Setenv("TEMPLATE_PROBABILITY", "0.5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AI_BACKOFF_INITIAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pipeline.RateLimitMessages)
	assert.Equal(t, time.Minute, cfg.Pipeline.RateLimitWindow)
	assert.Equal(t, 0.5, cfg.Responder.TemplateProbability)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.AI.BackoffInitial)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CACHE_MAX_SIZE", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Cache.MaxSize)
}

func TestValidateRejectsImpossibleSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min above max", func(c *Config) { c.Pipeline.MinMessageLength = 2000 }},
		{"zero rate limit", func(c *Config) { c.Pipeline.RateLimitMessages = 0 }},
		{"probability above one", func(c *Config) { c.Responder.TemplateProbability = 1.5 }},
		{"negative retries", func(c *Config) { c.AI.MaxRetries = -1 }},
		{"empty cache", func(c *Config) { c.Cache.MaxSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.DSN(), "dbname=marketplace-responder")
	assert.Contains(t, cfg.DSN(), "sslmode=disable")
}
