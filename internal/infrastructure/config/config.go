package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Control    ControlConfig
	Browser    BrowserConfig
	Instances  InstanceConfig
	Viewport   ViewportConfig
	Automation AutomationConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds the host-shell API server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// ControlConfig points at the external controller/session control server.
type ControlConfig struct {
	URL            string        `envconfig:"CONTROL_URL" default:"http://127.0.0.1:5000"`
	Timeout        time.Duration `envconfig:"CONTROL_TIMEOUT" default:"10s"`
	MaxRetries     int           `envconfig:"CONTROL_MAX_RETRIES" default:"2"`
	RateLimit      float64       `envconfig:"CONTROL_RATE" default:"20"`
	StatusInterval time.Duration `envconfig:"CONTROL_STATUS_INTERVAL" default:"30s"`
	Enabled        bool          `envconfig:"CONTROL_ENABLED" default:"true"`
}

// BrowserConfig controls the shared browser process hosting every instance.
type BrowserConfig struct {
	ExecPath  string `envconfig:"BROWSER_EXEC_PATH"`
	Headless  bool   `envconfig:"BROWSER_HEADLESS" default:"false"`
	TargetURL string `envconfig:"TARGET_URL" default:"https://www.xbox.com/en-US/play"`
	UserAgent string `envconfig:"BROWSER_USER_AGENT"`
}

// InstanceConfig holds hosted instance limits and lifecycle delays.
type InstanceConfig struct {
	Max              int           `envconfig:"MAX_INSTANCES" default:"20"`
	SpoofSettleDelay time.Duration `envconfig:"SPOOF_SETTLE_DELAY" default:"2s"`
	AutoPlayDelay    time.Duration `envconfig:"AUTOPLAY_DELAY" default:"1s"`
	MountTimeout     time.Duration `envconfig:"MOUNT_TIMEOUT" default:"15s"`
}

// ViewportConfig is the resolution reported to every hosted page.
type ViewportConfig struct {
	Width  int `envconfig:"VIEWPORT_WIDTH" default:"464"`
	Height int `envconfig:"VIEWPORT_HEIGHT" default:"264"`
}

// AutomationConfig tunes the auto-play heuristic.
type AutomationConfig struct {
	MaxClickAttempts  int           `envconfig:"AUTOPLAY_MAX_ATTEMPTS" default:"10"`
	RetryInterval     time.Duration `envconfig:"AUTOPLAY_RETRY_INTERVAL" default:"2s"`
	MonitorInterval   time.Duration `envconfig:"AUTOPLAY_MONITOR_INTERVAL" default:"5s"`
	EpisodeCeiling    time.Duration `envconfig:"AUTOPLAY_EPISODE_CEILING" default:"30s"`
	InitialCheckDelay time.Duration `envconfig:"AUTOPLAY_INITIAL_DELAY" default:"2s"`
	ProfilePath       string        `envconfig:"AUTOMATION_PROFILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values the rest of the system cannot work with.
func (c *Config) Validate() error {
	if c.Instances.Max < 1 || c.Instances.Max > 20 {
		return fmt.Errorf("MAX_INSTANCES must be within [1,20], got %d", c.Instances.Max)
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.Viewport.Width, c.Viewport.Height)
	}
	if c.Automation.MaxClickAttempts < 1 {
		return fmt.Errorf("AUTOPLAY_MAX_ATTEMPTS must be positive, got %d", c.Automation.MaxClickAttempts)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Control: ControlConfig{
			URL:            "http://127.0.0.1:5000",
			Timeout:        10 * time.Second,
			MaxRetries:     2,
			RateLimit:      20,
			StatusInterval: 30 * time.Second,
			Enabled:        true,
		},
		Browser: BrowserConfig{
			Headless:  false,
			TargetURL: "https://www.xbox.com/en-US/play",
		},
		Instances: InstanceConfig{
			Max:              20,
			SpoofSettleDelay: 2 * time.Second,
			AutoPlayDelay:    time.Second,
			MountTimeout:     15 * time.Second,
		},
		Viewport: ViewportConfig{
			Width:  464,
			Height: 264,
		},
		Automation: AutomationConfig{
			MaxClickAttempts:  10,
			RetryInterval:     2 * time.Second,
			MonitorInterval:   5 * time.Second,
			EpisodeCeiling:    30 * time.Second,
			InitialCheckDelay: 2 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
