package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Registry RegistryConfig `json:"registry"`
	Database DatabaseConfig `json:"database"`
	Notify   NotifyConfig   `json:"notify"`
}

type ServerConfig struct {
	Port          int    `json:"port"`
	LogLevel      string `json:"log_level"`
	MigrationsDir string `json:"migrations_dir"`
}

type RegistryConfig struct {
	// Admin is the identity allowed to record consensus and slash.
	Admin      string `json:"admin"`
	Treasury   string `json:"treasury"`
	RewardFund string `json:"reward_fund"`
	// Rail selects the payment rail: "postgres" or "memory".
	Rail          string `json:"rail"`
	SweepInterval string `json:"sweep_interval"`
}

// SweepEvery parses SweepInterval.
func (r RegistryConfig) SweepEvery() (time.Duration, error) {
	d, err := time.ParseDuration(r.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("sweep_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("sweep_interval must be positive, got %s", d)
	}
	return d, nil
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a config document held in memory.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.MigrationsDir == "" {
		c.Server.MigrationsDir = "migrations"
	}
	if c.Registry.Rail == "" {
		c.Registry.Rail = "postgres"
	}
	if c.Registry.SweepInterval == "" {
		c.Registry.SweepInterval = "1m"
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Registry.Admin == "" {
		errs = append(errs, errors.New("registry.admin is required"))
	}
	if c.Registry.Treasury == "" {
		errs = append(errs, errors.New("registry.treasury is required"))
	}
	if c.Registry.RewardFund == "" {
		errs = append(errs, errors.New("registry.reward_fund is required"))
	}
	switch c.Registry.Rail {
	case "memory":
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, errors.New("database.postgres.dsn is required by the postgres rail"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.rail %q is not one of postgres, memory", c.Registry.Rail))
	}
	if _, err := c.Registry.SweepEvery(); err != nil {
		errs = append(errs, fmt.Errorf("registry.%w", err))
	}
	if c.Notify.Slack.Enabled && (c.Notify.Slack.BotToken == "" || c.Notify.Slack.ChannelID == "") {
		errs = append(errs, errors.New("notify.slack needs bot_token and channel_id"))
	}
	if c.Notify.Discord.Enabled && (c.Notify.Discord.BotToken == "" || c.Notify.Discord.ChannelID == "") {
		errs = append(errs, errors.New("notify.discord needs bot_token and channel_id"))
	}
	return errors.Join(errs...)
}
