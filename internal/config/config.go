// Package config loads service configuration from an optional yaml file and
// environment overrides via viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	// API server
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Research workflow
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	DefaultMaxCycles    int           `mapstructure:"default_max_review_cycles"`
	QuestionTimeout     time.Duration `mapstructure:"question_timeout"`
	AnswerMaxIterations int           `mapstructure:"answer_max_iterations"`

	// Session lifecycle
	MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions"`
	SessionTTL            time.Duration `mapstructure:"session_ttl"`
	CompletedRetention    time.Duration `mapstructure:"completed_retention"`
	CleanupInterval       time.Duration `mapstructure:"cleanup_interval"`

	// Progress streaming
	StreamRingCapacity int `mapstructure:"stream_ring_capacity"`

	// Rate limiting on session creation
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// Agent service
	AgentServiceURL string `mapstructure:"agent_service_url"`
}

// Load reads configuration from CONFIG_PATH (optional yaml file) with
// environment variable overrides (e.g. DEEPRESEARCH_PORT, DEEPRESEARCH_SESSION_TTL).
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("default_timeout", 300*time.Second)
	v.SetDefault("default_max_review_cycles", 3)
	v.SetDefault("question_timeout", 120*time.Second)
	v.SetDefault("answer_max_iterations", 5)
	v.SetDefault("max_concurrent_sessions", 10)
	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("completed_retention", time.Hour)
	v.SetDefault("cleanup_interval", 30*time.Minute)
	v.SetDefault("stream_ring_capacity", 256)
	v.SetDefault("rate_limit_rps", 1.0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("agent_service_url", "http://llm-service:8000")

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgPath := os.Getenv("CONFIG_PATH"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive")
	}
	if c.DefaultMaxCycles <= 0 {
		return fmt.Errorf("default_max_review_cycles must be positive")
	}
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("max_concurrent_sessions must be positive")
	}
	return nil
}
