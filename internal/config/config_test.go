package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"ENV", "PORT", "ROUND_TIME", "ROUNDS", "RECONNECT_GRACE", "PARTY_MAX_MEMBERS", "RATING_K", "INSTANCE_ID"} {
		t.Setenv(k, "")
	}
	c := Load(nil)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, 60*time.Second, c.RoundTime)
	assert.Equal(t, 5, c.Rounds)
	assert.Equal(t, 30*time.Second, c.ReconnectGrace)
	assert.Equal(t, 4, c.PartyMaxMembers)
	assert.Equal(t, 32.0, c.RatingK)
	assert.NotEmpty(t, c.InstanceID)
	assert.True(t, c.Development())
}

func TestLoad_OverridesAndBadValues(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("ROUNDS", "3")
	t.Setenv("RECONNECT_GRACE", "45s")
	t.Setenv("BAND_STEP_EVERY", "soon")
	t.Setenv("RESTART_QUEUED", "true")

	core, logs := observer.New(zap.WarnLevel)
	c := Load(zap.New(core))

	assert.False(t, c.Development())
	assert.Equal(t, 3, c.Rounds)
	assert.Equal(t, 45*time.Second, c.ReconnectGrace)
	assert.Equal(t, 5*time.Second, c.BandStepEvery)
	assert.True(t, c.RestartQueued)
	assert.Equal(t, 1, logs.FilterField(zap.String("key", "BAND_STEP_EVERY")).Len())
}

func TestLoad_OutOfRangeFallsBack(t *testing.T) {
	tests := []struct {
		key   string
		value string
		get   func(*Config) any
		want  any
	}{
		{"BAND_INITIAL", "-50", func(c *Config) any { return c.BandInitial }, 200},
		{"BAND_STEP", "-1", func(c *Config) any { return c.BandStep }, 100},
		{"ROUNDS", "0", func(c *Config) any { return c.Rounds }, 5},
		{"ROUNDS", "-3", func(c *Config) any { return c.Rounds }, 5},
		{"PARTY_MAX_MEMBERS", "1", func(c *Config) any { return c.PartyMaxMembers }, 4},
		{"MATCHMAKING_INTERVAL", "0s", func(c *Config) any { return c.MatchmakingInterval }, 2 * time.Second},
		{"ROUND_TIME", "-10s", func(c *Config) any { return c.RoundTime }, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			core, logs := observer.New(zap.WarnLevel)
			c := Load(zap.New(core))

			assert.Equal(t, tt.want, tt.get(c))
			assert.Equal(t, 1, logs.FilterField(zap.String("key", tt.key)).Len())
		})
	}
}

func TestLoad_ZeroBandIsAllowed(t *testing.T) {
	t.Setenv("BAND_INITIAL", "0")
	t.Setenv("BAND_STEP", "0")
	core, logs := observer.New(zap.WarnLevel)
	c := Load(zap.New(core))

	assert.Equal(t, 0, c.BandInitial)
	assert.Equal(t, 0, c.BandStep)
	assert.Equal(t, 0, logs.Len())
}
