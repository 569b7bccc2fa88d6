// Package config loads the process configuration from environment
// variables via caarlos0/env.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-tunable setting the core and its ambient
// adapters need.
type Config struct {
	// Mode selects which loop the process runs: "api" serves the HTTP
	// surface, "worker" runs the reaper and usage sampler.
	Mode string `env:"MODE" envDefault:"api"`

	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	MetricsPath   string `env:"METRICS_PATH" envDefault:"/metrics"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"internal/platform/migrations"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// TopologyTimeoutInitial is how long a freshly created topology lives
	// before the reaper would otherwise warn about it.
	TopologyTimeoutInitial time.Duration `env:"TOPOLOGY_TIMEOUT_INITIAL" envDefault:"1h"`
	// TopologyTimeoutWarning is how far ahead of a deadline the reaper
	// considers a topology due for its warning notification.
	TopologyTimeoutWarning time.Duration `env:"TOPOLOGY_TIMEOUT_WARNING" envDefault:"10m"`
	// TopologyTimeoutMax bounds how far a non-admin renew may push the
	// deadline into the future.
	TopologyTimeoutMax time.Duration `env:"TOPOLOGY_TIMEOUT_MAX" envDefault:"168h"`

	ReaperInterval  time.Duration `env:"REAPER_INTERVAL" envDefault:"600s"`
	SamplerInterval time.Duration `env:"SAMPLER_INTERVAL" envDefault:"60s"`

	SlackBotToken     string `env:"SLACK_BOT_TOKEN"`
	SlackAlertChannel string `env:"SLACK_ALERT_CHANNEL"`

	SMTPAddr string `env:"SMTP_ADDR"`
	SMTPFrom string `env:"SMTP_FROM"`

	// AdminToken is the shared secret an API caller presents as X-API-Key
	// to obtain the global-admin bypass; empty disables the dev-header
	// identity fallback too.
	AdminToken string `env:"ADMIN_TOKEN"`
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the host:port the HTTP server should bind.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
