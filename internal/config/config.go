// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-driven option recognized by the API
// and worker processes (spec.md §6).
type Config struct {
	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"3000"`

	// ----------------------------
	// Admin control plane
	// ----------------------------
	AdminAPIKeyRead  string `envconfig:"ADMIN_API_KEY_READ"`
	AdminAPIKeyWrite string `envconfig:"ADMIN_API_KEY_WRITE"`

	// ----------------------------
	// Worker / dispatcher
	// ----------------------------
	WorkerPollIntervalMS int `envconfig:"WORKER_POLL_INTERVAL_MS" default:"1000"`
	WorkerBatchSize      int `envconfig:"WORKER_BATCH_SIZE" default:"10"`

	// ----------------------------
	// SMTP (email provider adapter)
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"noreply@deliveryengine.local"`

	// ----------------------------
	// Process-level throttle on outbound provider calls (ambient,
	// distinct from the per-tenant durable RateLimiter).
	// ----------------------------
	ProviderRateLimitPerSecond int `envconfig:"PROVIDER_RATE_LIMIT_PER_SECOND" default:"20"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
}

// Load reads the process configuration from the environment, applying
// defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PollInterval returns the configured poll interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalMS) * time.Millisecond
}

// Validate returns human-readable warnings for configuration values the
// Supervisor considers unsafe but not fatal (spec.md §4.10).
func (c *Config) Validate() []string {
	var warnings []string
	if c.WorkerBatchSize > 100 {
		warnings = append(warnings, fmt.Sprintf("worker batch size %d exceeds recommended maximum of 100", c.WorkerBatchSize))
	}
	if c.PollInterval() < 100*time.Millisecond {
		warnings = append(warnings, fmt.Sprintf("poll interval %s is below recommended minimum of 100ms", c.PollInterval()))
	}
	return warnings
}
