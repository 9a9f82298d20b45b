package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	BaseURL   string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"coursepay.db"`

	// AdminToken guards the admin routes. Empty disables them.
	AdminToken string `env:"ADMIN_TOKEN"`

	AbacatePay AbacatePay `envPrefix:"ABACATEPAY_"`
	Evolution  Evolution  `envPrefix:"EVOLUTION_"`
	Postmark   Postmark   `envPrefix:"POSTMARK_"`
	Reconcile  Reconcile  `envPrefix:"RECONCILE_"`

	DefaultCountryCode string `env:"DEFAULT_COUNTRY_CODE" envDefault:"55"`
	PixExpiresIn       int    `env:"PIX_EXPIRES_IN" envDefault:"3600"`
}

type AbacatePay struct {
	APIKey        string        `env:"API_KEY"`
	BaseURL       string        `env:"BASE_URL" envDefault:"https://api.abacatepay.com/v1"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	ReturnURL     string        `env:"RETURN_URL"`
	CompletionURL string        `env:"COMPLETION_URL"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

type Evolution struct {
	BaseURL  string        `env:"BASE_URL"`
	APIKey   string        `env:"API_KEY"`
	Instance string        `env:"INSTANCE"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

type Postmark struct {
	Token string `env:"TOKEN"`
	From  string `env:"FROM"`
}

type Reconcile struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"1m"`
	Grace    time.Duration `env:"GRACE" envDefault:"5m"`
	Batch    int           `env:"BATCH" envDefault:"100"`
}

// Load reads an optional .env file, then parses the environment. Variables
// already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.DBDriver = strings.ToLower(c.DBDriver)
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.Reconcile.Batch <= 0 {
		return fmt.Errorf("RECONCILE_BATCH must be positive")
	}
	if c.PixExpiresIn <= 0 {
		return fmt.Errorf("PIX_EXPIRES_IN must be positive")
	}
	return nil
}
