// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/visemo/visemo/internal/ping"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	AllowedOrigins []string
	EmotionSource  ping.SourceMode
	Ping           ping.Rules
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	defaults := ping.DefaultRules()

	mode, err := ping.ParseSourceMode(strings.ToLower(strings.TrimSpace(getEnv("EMOTION_SOURCE", string(ping.ModeLabels)))))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/visemo.db"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		EmotionSource:  mode,
		Ping: ping.Rules{
			MinElapsed:           getEnvDuration("PING_MIN_ELAPSED", defaults.MinElapsed),
			WindowSize:           getEnvInt("PING_WINDOW_SIZE", defaults.WindowSize),
			NegativeThreshold:    getEnvInt("PING_NEGATIVE_THRESHOLD", defaults.NegativeThreshold),
			BatchSize:            getEnvInt("PING_BATCH_SIZE", defaults.BatchSize),
			MinLabelObservations: getEnvInt("PING_MIN_LABEL_OBSERVATIONS", defaults.MinLabelObservations),
			MinCountObservations: getEnvInt("PING_MIN_COUNT_OBSERVATIONS", defaults.MinCountObservations),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	if err := c.Ping.Validate(); err != nil {
		return fmt.Errorf("ping rules: %w", err)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
