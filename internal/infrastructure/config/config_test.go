package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, "http://127.0.0.1:5000", cfg.Control.URL)
	assert.Equal(t, 30*time.Second, cfg.Control.StatusInterval)

	assert.Equal(t, 20, cfg.Instances.Max)
	assert.Equal(t, 2*time.Second, cfg.Instances.SpoofSettleDelay)
	assert.Equal(t, time.Second, cfg.Instances.AutoPlayDelay)

	assert.Equal(t, 464, cfg.Viewport.Width)
	assert.Equal(t, 264, cfg.Viewport.Height)

	assert.Equal(t, 10, cfg.Automation.MaxClickAttempts)
	assert.Equal(t, 30*time.Second, cfg.Automation.EpisodeCeiling)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"CONTROL_URL":             "http://control:5000",
		"CONTROL_TIMEOUT":         "3s",
		"BROWSER_HEADLESS":        "true",
		"MAX_INSTANCES":           "8",
		"VIEWPORT_WIDTH":          "1280",
		"VIEWPORT_HEIGHT":         "720",
		"AUTOPLAY_MAX_ATTEMPTS":   "4",
		"AUTOPLAY_RETRY_INTERVAL": "500ms",
		"LOG_LEVEL":               "debug",
		"RATE_LIMIT_ENABLED":      "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "http://control:5000", cfg.Control.URL)
	assert.Equal(t, 3*time.Second, cfg.Control.Timeout)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 8, cfg.Instances.Max)
	assert.Equal(t, 1280, cfg.Viewport.Width)
	assert.Equal(t, 720, cfg.Viewport.Height)
	assert.Equal(t, 4, cfg.Automation.MaxClickAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Automation.RetryInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"too many instances", "MAX_INSTANCES", "25"},
		{"zero instances", "MAX_INSTANCES", "0"},
		{"bad viewport", "VIEWPORT_WIDTH", "0"},
		{"bad attempts", "AUTOPLAY_MAX_ATTEMPTS", "0"},
		{"not a number", "MAX_INSTANCES", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseProfile(t *testing.T) {
	data := []byte(`
phrases: ["tap to play", "continue playing"]
max_click_attempts: 6
retry_interval: 3s
selectors:
  - kind: attribute
    tags: [button]
    attr: data-testid
    value: play-button
  - kind: text
    tags: [button, a]
    value: play
`)
	p, err := ParseProfile(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"tap to play", "continue playing"}, p.Phrases)
	require.Len(t, p.Selectors, 2)
	assert.Equal(t, "data-testid", p.Selectors[0].Attr)
	assert.Equal(t, []string{"button", "a"}, p.Selectors[1].Tags)

	auto := Default().Automation
	p.Apply(&auto)
	assert.Equal(t, 6, auto.MaxClickAttempts)
	assert.Equal(t, 3*time.Second, auto.RetryInterval)
	assert.Equal(t, 5*time.Second, auto.MonitorInterval, "unset fields keep defaults")
}

func TestParseProfileErrors(t *testing.T) {
	tests := map[string]string{
		"unknown kind":     "selectors: [{kind: css, value: x}]",
		"attribute no key": "selectors: [{kind: attribute, value: x}]",
		"empty value":      "selectors: [{kind: class}]",
		"bad duration":     "retry_interval: soon",
		"negative":         "max_click_attempts: -1",
		"malformed":        "phrases: [unterminated",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProfile([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phrases: [launch game]\n"), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"launch game"}, p.Phrases)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
