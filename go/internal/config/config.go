package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration: a yaml file provides the base
// and TIMESYNC_*/DB_*/NATS_* environment variables override it.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pulse    PulseConfig    `yaml:"pulse"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// PulseConfig drives pulse scheduling and timing validation.
type PulseConfig struct {
	DailyTimeOfDay       string `yaml:"daily_time_of_day"` // HH:MM:SS, UTC
	SyncWindowMs         int64  `yaml:"sync_window_ms"`
	GracePeriodMs        int64  `yaml:"grace_period_ms"`
	MaxNetworkLatencyMs  int64  `yaml:"max_network_latency_ms"`
	DailyPulseEnabled    bool   `yaml:"daily_pulse_enabled"`
	NotificationsEnabled bool   `yaml:"notifications_enabled"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Pulse: PulseConfig{
			DailyTimeOfDay:       "17:00:00",
			SyncWindowMs:         3000,
			GracePeriodMs:        5000,
			MaxNetworkLatencyMs:  10000,
			DailyPulseEnabled:    true,
			NotificationsEnabled: true,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "timesync",
			SSLMode:  "disable",
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "timesync",
		},
	}
}

// Load reads the yaml file at path (when it exists), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.Pulse.DailyTimeOfDay = getEnv("TIMESYNC_DAILY_PULSE_TIME", c.Pulse.DailyTimeOfDay)
	c.Pulse.SyncWindowMs = getEnvAsInt64("TIMESYNC_SYNC_WINDOW_MS", c.Pulse.SyncWindowMs)
	c.Pulse.GracePeriodMs = getEnvAsInt64("TIMESYNC_GRACE_PERIOD_MS", c.Pulse.GracePeriodMs)
	c.Pulse.MaxNetworkLatencyMs = getEnvAsInt64("TIMESYNC_MAX_NETWORK_LATENCY_MS", c.Pulse.MaxNetworkLatencyMs)
	c.Pulse.DailyPulseEnabled = getEnvAsBool("TIMESYNC_DAILY_PULSE_ENABLED", c.Pulse.DailyPulseEnabled)
	c.Pulse.NotificationsEnabled = getEnvAsBool("TIMESYNC_NOTIFICATIONS_ENABLED", c.Pulse.NotificationsEnabled)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if _, err := time.Parse("15:04:05", c.Pulse.DailyTimeOfDay); err != nil {
		return fmt.Errorf("invalid pulse.daily_time_of_day %q: %w", c.Pulse.DailyTimeOfDay, err)
	}
	if c.Pulse.SyncWindowMs <= 0 {
		return fmt.Errorf("pulse.sync_window_ms must be positive, got %d", c.Pulse.SyncWindowMs)
	}
	if c.Pulse.GracePeriodMs < 0 {
		return fmt.Errorf("pulse.grace_period_ms must not be negative, got %d", c.Pulse.GracePeriodMs)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
