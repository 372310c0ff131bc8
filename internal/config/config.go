// Package config loads service settings from the environment and an optional
// YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"hoslog/internal/hos"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Events   EventsConfig   `yaml:"events"`
	Rate     RateConfig     `yaml:"rate"`
	Auth     AuthConfig     `yaml:"auth"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Rules    RulesConfig    `yaml:"rules"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTPConfig struct {
	Port              int           `yaml:"port" env:"PORT" env-default:"8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	ServiceName       string        `yaml:"service_name" env:"SERVICE_NAME" env-default:"hoslog-api"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url" env:"DATABASE_URL"`
	Migrate bool   `yaml:"migrate" env:"DB_MIGRATE" env-default:"true"`
}

// EventsConfig selects the live event broker. Redis wins when both URLs are set.
type EventsConfig struct {
	RedisURL     string `yaml:"redis_url" env:"REDIS_URL"`
	RedisChannel string `yaml:"redis_channel" env:"REDIS_CHANNEL" env-default:"hos-events"`
	NATSURL      string `yaml:"nats_url" env:"NATS_URL"`
	NATSSubject  string `yaml:"nats_subject" env:"NATS_SUBJECT" env-default:"hos.events"`
}

type RateConfig struct {
	RPS   float64 `yaml:"rps" env:"RATE_RPS" env-default:"20"`
	Burst int     `yaml:"burst" env:"RATE_BURST" env-default:"40"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode" env:"AUTH_MODE" env-default:"dev"`
	HMACSecret string `yaml:"hmac_secret" env:"AUTH_HMAC_SECRET"`
	Issuer     string `yaml:"issuer" env:"AUTH_ISS"`
	Audience   string `yaml:"audience" env:"AUTH_AUD"`
}

type WebhooksConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"WEBHOOK_MAX_ATTEMPTS" env-default:"10"`
	PollInterval time.Duration `yaml:"poll_interval" env:"WEBHOOK_POLL_INTERVAL" env-default:"1s"`
	Timeout      time.Duration `yaml:"timeout" env:"WEBHOOK_TIMEOUT" env-default:"10s"`
}

type RulesConfig struct {
	Path string `yaml:"path" env:"HOS_RULES_PATH"`
}

// Load reads CONFIG_PATH when set, then the environment. Environment values
// override the file.
func Load() (*Config, error) {
	return LoadByPath(os.Getenv("CONFIG_PATH"))
}

// LoadByPath is Load with an explicit file path. An empty path reads the
// environment only.
func LoadByPath(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if cfg.Webhooks.MaxAttempts <= 0 {
		cfg.Webhooks.MaxAttempts = 10
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

// rulesFile mirrors hos.RuleSet with pointer fields so a YAML file only needs
// to name the limits it changes.
type rulesFile struct {
	MaxDriving         *time.Duration `yaml:"max_driving"`
	MaxDutyWindow      *time.Duration `yaml:"max_duty_window"`
	BreakAfter         *time.Duration `yaml:"break_after"`
	BreakMin           *time.Duration `yaml:"break_min"`
	Cycle7Day          *time.Duration `yaml:"cycle_7day"`
	Cycle8Day          *time.Duration `yaml:"cycle_8day"`
	RequiredRest       *time.Duration `yaml:"required_rest"`
	SleeperMajorMin    *time.Duration `yaml:"sleeper_major_min"`
	SleeperMinorMin    *time.Duration `yaml:"sleeper_minor_min"`
	CycleWarningMargin *time.Duration `yaml:"cycle_warning_margin"`
}

// LoadRules returns hos.DefaultRules with the overrides in the YAML file at
// path applied. An empty path returns the defaults. The result is validated.
func LoadRules(path string) (hos.RuleSet, error) {
	rules := hos.DefaultRules()
	if path == "" {
		return rules, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return hos.RuleSet{}, fmt.Errorf("config: rules: %w", err)
	}
	return ParseRules(b)
}

// ParseRules applies YAML overrides to hos.DefaultRules.
func ParseRules(b []byte) (hos.RuleSet, error) {
	rules := hos.DefaultRules()
	var f rulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return hos.RuleSet{}, fmt.Errorf("config: rules: %w", err)
	}
	for _, o := range []struct {
		src *time.Duration
		dst *time.Duration
	}{
		{f.MaxDriving, &rules.MaxDriving},
		{f.MaxDutyWindow, &rules.MaxDutyWindow},
		{f.BreakAfter, &rules.BreakAfter},
		{f.BreakMin, &rules.BreakMin},
		{f.Cycle7Day, &rules.Cycle7Day},
		{f.Cycle8Day, &rules.Cycle8Day},
		{f.RequiredRest, &rules.RequiredRest},
		{f.SleeperMajorMin, &rules.SleeperMajorMin},
		{f.SleeperMinorMin, &rules.SleeperMinorMin},
		{f.CycleWarningMargin, &rules.CycleWarningMargin},
	} {
		if o.src != nil {
			*o.dst = *o.src
		}
	}
	if err := rules.Validate(); err != nil {
		return hos.RuleSet{}, fmt.Errorf("config: rules: %w", err)
	}
	return rules, nil
}
