package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBSource string `yaml:"db_source"`
	Port     string `yaml:"port"`
	Env      string `yaml:"environment"`
	LogLevel string `yaml:"log_level"`

	Owner            string `yaml:"owner"`
	FirstAirline     string `yaml:"first_airline"`
	FirstAirlineName string `yaml:"first_airline_name"`
	OracleEntropy    string `yaml:"oracle_entropy"`

	// Redeliver is how often pending withdrawals are offered to the disburser
	// again, as a time.ParseDuration string.
	Redeliver string `yaml:"redeliver_interval"`
}

// Load reads the optional YAML file named by LEDGER_CONFIG, then lets
// environment variables override it.
func Load() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	override(&cfg.DBSource, "DB_SOURCE")
	override(&cfg.Port, "SERVER_PORT")
	override(&cfg.Env, "ENVIRONMENT")
	override(&cfg.LogLevel, "LOG_LEVEL")
	override(&cfg.Owner, "LEDGER_OWNER")
	override(&cfg.FirstAirline, "LEDGER_FIRST_AIRLINE")
	override(&cfg.FirstAirlineName, "LEDGER_FIRST_AIRLINE_NAME")
	override(&cfg.OracleEntropy, "ORACLE_ENTROPY")
	override(&cfg.Redeliver, "REDELIVER_INTERVAL")

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.FirstAirlineName == "" {
		cfg.FirstAirlineName = "First Airline"
	}
	if cfg.Redeliver == "" {
		cfg.Redeliver = "30s"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("LEDGER_OWNER is required")
	}
	if c.FirstAirline == "" {
		return fmt.Errorf("LEDGER_FIRST_AIRLINE is required")
	}
	if c.DBSource == "" && c.Env == "production" {
		return fmt.Errorf("DB_SOURCE environment variable is required in production")
	}
	if d, err := time.ParseDuration(c.Redeliver); err != nil || d <= 0 {
		return fmt.Errorf("REDELIVER_INTERVAL must be a positive duration, got %q", c.Redeliver)
	}
	return nil
}

// RedeliverInterval is the parsed Redeliver value. Call it after Validate.
func (c *Config) RedeliverInterval() time.Duration {
	d, _ := time.ParseDuration(c.Redeliver)
	return d
}

// InMemory reports whether no database is configured.
func (c *Config) InMemory() bool {
	return c.DBSource == ""
}

func override(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
