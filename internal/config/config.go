package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr          string `env:"API_ADDR" envDefault:":8787"`
	Env           string `env:"APP_ENV" envDefault:"production"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MigrationsDir string `env:"ORION_MIGRATIONS_DIR" envDefault:"./db/migrations"`
	ReposDir      string `env:"ORION_REPOS_DIR" envDefault:"./data/repos"`
	CORSOrigin    string `env:"ORION_CORS_ORIGIN" envDefault:"*"`

	// DefaultWorkflow names the workflow seeded at startup.
	DefaultWorkflow string `env:"ORION_DEFAULT_WORKFLOW" envDefault:"Circle of Writers"`

	MeiliURL       string `env:"MEILI_URL"`
	MeiliMasterKey string `env:"MEILI_MASTER_KEY"`

	// Notifications are queued on Redis when REDIS_URL is set and delivered
	// through the email service or SMTP, whichever is configured.
	RedisURL            string        `env:"REDIS_URL"`
	NotifyQueue         string        `env:"ORION_NOTIFY_QUEUE" envDefault:"orion:notifications"`
	EmailServiceURL     string        `env:"EMAIL_SERVICE_URL"`
	EmailServiceTimeout time.Duration `env:"EMAIL_SERVICE_TIMEOUT" envDefault:"1s"`

	SMTPHost            string `env:"SMTP_HOST"`
	SMTPPort            string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername        string `env:"SMTP_USERNAME"`
	SMTPPassword        string `env:"SMTP_PASSWORD"`
	SMTPFrom            string `env:"SMTP_FROM"`
	SMTPFromName        string `env:"SMTP_FROM_NAME" envDefault:"Orion"`
	SMTPRecipientDomain string `env:"SMTP_RECIPIENT_DOMAIN"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("API_ADDR is required")
	}
	if c.EmailServiceTimeout <= 0 {
		return fmt.Errorf("EMAIL_SERVICE_TIMEOUT must be positive, got %s", c.EmailServiceTimeout)
	}
	return nil
}

// Development reports whether APP_ENV selects development mode.
func (c Config) Development() bool {
	return c.Env == "dev" || c.Env == "development"
}
