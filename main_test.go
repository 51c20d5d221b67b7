package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scenetrack/tracker/internal/config"
)

func baseConfig() *config.ServiceConfig {
	return &config.ServiceConfig{
		LogLevel:        "info",
		HealthcheckPort: 8080,
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := baseConfig()

	assert.NoError(t, applyFlagOverrides(cfg, "debug", "9090"))
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.HealthcheckPort)
}

func TestApplyFlagOverrides_EmptyLeavesConfigAlone(t *testing.T) {
	cfg := baseConfig()

	assert.NoError(t, applyFlagOverrides(cfg, "", ""))
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HealthcheckPort)
}

func TestApplyFlagOverrides_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		level string
		port  string
	}{
		{"bad level", "loud", ""},
		{"port not a number", "", "eighty"},
		{"port below range", "", "80"},
		{"port above range", "", "70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			assert.Error(t, applyFlagOverrides(cfg, tt.level, tt.port))
		})
	}
}

func TestClearEmptyEnv(t *testing.T) {
	t.Setenv("CLEAR_ME", "")
	t.Setenv("KEEP_ME", "value")

	clearEmptyEnv("CLEAR_ME", "KEEP_ME", "NEVER_SET")

	_, set := os.LookupEnv("CLEAR_ME")
	assert.False(t, set)
	assert.Equal(t, "value", os.Getenv("KEEP_ME"))
	_, set = os.LookupEnv("NEVER_SET")
	assert.False(t, set)
}
