package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level   string
		devMode bool
		want    slog.Level
		wantErr bool
	}{
		{"default", false, slog.LevelInfo, false},
		{"default", true, slog.LevelDebug, false},
		{"DEBUG", false, slog.LevelDebug, false},
		{"warning", false, slog.LevelWarn, false},
		{"error", true, slog.LevelError, false},
		{"loud", false, slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := ParseLogLevel(tt.level, tt.devMode)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func validConfig() AppConfig {
	return AppConfig{
		BusDriver:      "memory",
		MutationPolicy: "queue",
		RowHeight:      38,
		PageLimit:      50,
		DedupeSize:     4096,
		CacheSweep:     time.Minute,
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())

	tests := map[string]func(*AppConfig){
		"bus driver":  func(c *AppConfig) { c.BusDriver = "kafka" },
		"policy":      func(c *AppConfig) { c.MutationPolicy = "merge" },
		"row height":  func(c *AppConfig) { c.RowHeight = 0 },
		"page limit":  func(c *AppConfig) { c.PageLimit = -1 },
		"dedupe size": func(c *AppConfig) { c.DedupeSize = 0 },
		"stale time":  func(c *AppConfig) { c.StaleTime = -time.Second },
		"cache sweep": func(c *AppConfig) { c.CacheSweep = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNeedsDatabase(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.NeedsDatabase())

	cfg.UpstreamURL = "https://api.example.com"
	assert.False(t, cfg.NeedsDatabase())

	cfg.BusDriver = "postgres"
	assert.True(t, cfg.NeedsDatabase())
}
