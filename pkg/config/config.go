// Package config loads the process configuration: built-in defaults, then
// an optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings like "90s" in
// both YAML and environment values.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full process configuration.
type Config struct {
	LogLevel   string   `yaml:"log_level" env:"DAYMARK_LOG_LEVEL"`
	Recipient  string   `yaml:"recipient" env:"DAYMARK_RECIPIENT"`
	BatchDelay Duration `yaml:"batch_delay" env:"DAYMARK_BATCH_DELAY"`
	SchemaSeed string   `yaml:"schema_seed" env:"DAYMARK_SCHEMA_SEED"`

	Store    Store    `yaml:"store" envPrefix:"DAYMARK_STORE_"`
	Gateway  Gateway  `yaml:"gateway" envPrefix:"DAYMARK_GATEWAY_"`
	Notify   Notify   `yaml:"notify" envPrefix:"DAYMARK_NOTIFY_"`
	Schedule Schedule `yaml:"schedule" envPrefix:"DAYMARK_SCHEDULE_"`
}

// Store selects the tabular backend.
type Store struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// Provider configures one LLM provider.
type Provider struct {
	APIKey    string `yaml:"api_key" env:"API_KEY"`
	Model     string `yaml:"model" env:"MODEL"`
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	MaxTokens int    `yaml:"max_tokens" env:"MAX_TOKENS"`
}

func (p Provider) enabled() bool { return p.APIKey != "" }

// Gateway configures the LLM gateway and its retry policy.
type Gateway struct {
	// Provider names the active provider; empty means the first
	// registered one.
	Provider      string   `yaml:"provider" env:"PROVIDER"`
	MaxAttempts   int      `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay     Duration `yaml:"base_delay" env:"BASE_DELAY"`
	BackoffFactor float64  `yaml:"backoff_factor" env:"BACKOFF_FACTOR"`
	Timeout       Duration `yaml:"timeout" env:"TIMEOUT"`

	Anthropic Provider `yaml:"anthropic" envPrefix:"ANTHROPIC_"`
	OpenAI    Provider `yaml:"openai" envPrefix:"OPENAI_"`
	Gemini    Provider `yaml:"gemini" envPrefix:"GEMINI_"`
}

// Notify selects and configures the notification channel.
type Notify struct {
	// Kind is "none", "slack" or "smtp".
	Kind  string `yaml:"kind" env:"KIND"`
	Slack Slack  `yaml:"slack" envPrefix:"SLACK_"`
	SMTP  SMTP   `yaml:"smtp" envPrefix:"SMTP_"`
}

type Slack struct {
	Token   string `yaml:"token" env:"TOKEN"`
	Channel string `yaml:"channel" env:"CHANNEL"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	From     string `yaml:"from" env:"FROM"`
}

// Schedule holds the cron expressions for unattended runs.
type Schedule struct {
	Daily  string   `yaml:"daily" env:"DAILY"`
	Weekly string   `yaml:"weekly" env:"WEEKLY"`
	Tick   Duration `yaml:"tick" env:"TICK"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store:    Store{Driver: "memory"},
		Gateway: Gateway{
			MaxAttempts:   3,
			BaseDelay:     Duration(time.Second),
			BackoffFactor: 2,
			Timeout:       Duration(60 * time.Second),
		},
		Notify: Notify{
			Kind: "none",
			SMTP: SMTP{Port: 587},
		},
		Schedule: Schedule{
			Daily:  "0 7 * * *",
			Weekly: "0 8 * * 1",
			Tick:   Duration(time.Minute),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// path is non-empty, then environment variables, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the container cannot wire.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite driver requires a path")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	switch c.Gateway.Provider {
	case "", "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("gateway: unknown provider %q", c.Gateway.Provider)
	}
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("gateway: max_attempts must be at least 1")
	}

	switch c.Notify.Kind {
	case "", "none":
	case "slack":
		if c.Notify.Slack.Token == "" {
			return fmt.Errorf("notify: slack requires a token")
		}
	case "smtp":
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
			return fmt.Errorf("notify: smtp requires host and from")
		}
	default:
		return fmt.Errorf("notify: unknown kind %q", c.Notify.Kind)
	}

	return nil
}

// Providers returns the configured providers keyed by gateway name, in
// registration order. Only providers with an API key are included.
func (c *Config) Providers() []NamedProvider {
	var out []NamedProvider
	if c.Gateway.Anthropic.enabled() {
		out = append(out, NamedProvider{Name: "anthropic", Provider: c.Gateway.Anthropic})
	}
	if c.Gateway.OpenAI.enabled() {
		out = append(out, NamedProvider{Name: "openai", Provider: c.Gateway.OpenAI})
	}
	if c.Gateway.Gemini.enabled() {
		out = append(out, NamedProvider{Name: "gemini", Provider: c.Gateway.Gemini})
	}
	return out
}

// NamedProvider pairs a provider's gateway name with its settings.
type NamedProvider struct {
	Name     string
	Provider Provider
}
