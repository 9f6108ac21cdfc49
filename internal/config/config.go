// Package config loads and validates the YAML configuration file shared by
// all three subsystems, following the legacy env-override-after-parse
// pattern from the adapter's own test configuration loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/makeev/ingestd/internal/model"
)

// RedisConfig describes the Store Adapter's backing connection.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// Addr returns "host:port" for use with redis.Options.Addr.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Config is the top-level shape of the YAML config file described in
// SPEC_FULL.md §6.
type Config struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Secret   string `yaml:"secret"`
	Paper    bool   `yaml:"paper"`

	Redis       RedisConfig         `yaml:"redis"`
	Instruments []model.Instrument  `yaml:"instruments"`

	DashboardCSVPath string `yaml:"dashboard_csv_path"`
	MetricsAddr      string `yaml:"metrics_addr"`
	LogLevel         string `yaml:"log_level"`
}

// Load reads the config file at path, applies INGESTD_<UPPER_SNAKE_PATH>
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	c.applyEnvOverrides()

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &c, nil
}

// applyEnvOverrides lets deploy-time secrets win over the YAML file without
// editing it, matching the legacy test-config env-var convention.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INGESTD_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("INGESTD_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("INGESTD_SECRET"); v != "" {
		c.Secret = v
	}
	if v := os.Getenv("INGESTD_REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("INGESTD_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("INGESTD_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("INGESTD_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("INGESTD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.Secret == "" {
		missing = append(missing, "secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if c.Redis.Port <= 0 {
		return fmt.Errorf("redis.port must be positive, got %d", c.Redis.Port)
	}

	for _, inst := range c.Instruments {
		if _, ok := model.CalendarExchange[inst.Exchange]; !ok {
			return fmt.Errorf("instrument %s.%s: unknown exchange %q", inst.Symbol, inst.Exchange, inst.Exchange)
		}
	}

	return nil
}

// PortalBaseURL is the local Client Portal Gateway's fixed base URL; paper
// vs. live is selected by which credentials authenticate against it, not by
// a different host, so Config.Paper only affects startup logging.
const PortalBaseURL = "https://localhost:5000/v1/api"
