package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.MemoryMode())
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, 15*time.Minute, cfg.StreakSweepInterval)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/crave")
	t.Setenv("CORS_ORIGIN", "https://a.example,https://b.example")
	t.Setenv("CALENDAR_TZ", "America/New_York")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.False(t, cfg.MemoryMode())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)

	log := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestParseRejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Parse()
	assert.Error(t, err, "JWT_SECRET is required")

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALENDAR_TZ", "Mars/Olympus")
	_, err = Parse()
	assert.Error(t, err)

	t.Setenv("CALENDAR_TZ", "UTC")
	t.Setenv("LOG_LEVEL", "loud")
	_, err = Parse()
	assert.Error(t, err)
}
