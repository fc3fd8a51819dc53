// Package config loads the service configuration from defaults, an optional
// YAML file and LIBRACHECK_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "LIBRACHECK"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.connect_wait", "1m")

	v.SetDefault("vision.endpoint", "")
	v.SetDefault("vision.key_env", "VISION_KEY")
	v.SetDefault("vision.timeout", "10s")
	v.SetDefault("vision.rate_per_second", 10.0)
	v.SetDefault("vision.burst", 5)
	v.SetDefault("vision.max_failures", 5)
	v.SetDefault("vision.open_for", "30s")
	v.SetDefault("vision.min_confidence", 0.0)

	v.SetDefault("storage.root", "./evidence")
	v.SetDefault("storage.base_url", "http://localhost:8080/evidence")

	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password_env", "SMTP_PASSWORD")
	v.SetDefault("email.from", "library@example.com")

	v.SetDefault("fines.tariff_file", "")
	v.SetDefault("fines.default_price", "9.99")

	v.SetDefault("evidence.max_concurrency", 4)
	v.SetDefault("evidence.call_timeout", "15s")

	v.SetDefault("telemetry.service_name", "libracheck-circulation")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.verbosity", 0)

	v.SetDefault("loans.default_days", 14)
	v.SetDefault("loans.overdue_schedule", "0 8 * * *")
}

// Load reads the configuration. path names a YAML file; when empty the
// LIBRACHECK_CONFIG variable is consulted, and without either only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Secrets come from the environment only.
	if cfg.Vision.KeyEnv != "" {
		cfg.Vision.Key = os.Getenv(cfg.Vision.KeyEnv)
	}
	if cfg.Email.PasswordEnv != "" {
		cfg.Email.Password = os.Getenv(cfg.Email.PasswordEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Loans.DefaultDays <= 0 {
		problems = append(problems, fmt.Errorf("loans.default_days must be positive, got %d", c.Loans.DefaultDays))
	}
	if c.Loans.OverdueSchedule != "" {
		if _, err := cron.ParseStandard(c.Loans.OverdueSchedule); err != nil {
			problems = append(problems, fmt.Errorf("loans.overdue_schedule: %w", err))
		}
	}
	if _, err := c.DefaultPrice(); err != nil {
		problems = append(problems, err)
	}
	if c.Evidence.MaxConcurrency <= 0 {
		problems = append(problems, fmt.Errorf("evidence.max_concurrency must be positive, got %d", c.Evidence.MaxConcurrency))
	}
	if c.Email.Host != "" && c.Email.From == "" {
		problems = append(problems, errors.New("email.from is required when email.host is set"))
	}
	if err := errors.Join(problems...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultPrice parses fines.default_price.
func (c *Config) DefaultPrice() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Fines.DefaultPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fines.default_price %q is not a number", c.Fines.DefaultPrice)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("fines.default_price %s is negative", d)
	}
	return d, nil
}
