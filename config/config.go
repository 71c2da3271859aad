package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvLedgerDriver      = "LEAVE_DB_DRIVER"
	EnvLedgerDSN         = "LEAVE_DB_DSN"
	EnvCRMDriver         = "LEAVE_CRM_DRIVER"
	EnvCRMDSN            = "LEAVE_CRM_DSN"
	EnvLogLevel          = "LEAVE_LOG_LEVEL"
	EnvLogFormat         = "LEAVE_LOG_FORMAT"
	EnvSchedulerInterval = "LEAVE_SCHEDULER_INTERVAL"
	EnvSchedulerEnabled  = "LEAVE_SCHEDULER_ENABLED"
)

// Config is the engine's configuration.
type Config struct {
	Ledger    LedgerConfig    `yaml:"ledger"`
	CRM       CRMConfig       `yaml:"crm"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LedgerConfig selects where balances and their changes are stored.
type LedgerConfig struct {
	Driver             string        `yaml:"driver"` // memory, sqlite, postgres
	DSN                string        `yaml:"dsn"`
	MaxConns           int           `yaml:"max_conns"`
	MinConns           int           `yaml:"min_conns"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxIdleTime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime"`
	ConnMaxIdleTimeRaw string        `yaml:"conn_max_idle_time"`
}

// CRMConfig points at the reference data database.
type CRMConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

type SchedulerConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	Interval    time.Duration `yaml:"-"`
	IntervalRaw string        `yaml:"interval"`
}

// Load reads the YAML file at path, then applies .env and environment
// overrides. An empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv file. A missing dotenv
// file is not an error.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Ledger.Driver, EnvLedgerDriver)
	setString(&c.Ledger.DSN, EnvLedgerDSN)
	setString(&c.CRM.Driver, EnvCRMDriver)
	setString(&c.CRM.DSN, EnvCRMDSN)
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Log.Format, EnvLogFormat)
	setString(&c.Scheduler.IntervalRaw, EnvSchedulerInterval)

	if v, ok := os.LookupEnv(EnvSchedulerEnabled); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvSchedulerEnabled, err)
		}
		c.Scheduler.Enabled = &enabled
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (c *Config) validateAndNormalize() error {
	if err := c.Ledger.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.CRM.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.Log.validateAndNormalize(); err != nil {
		return err
	}
	return c.Scheduler.validateAndNormalize()
}

func (l *LedgerConfig) validateAndNormalize() error {
	l.Driver = strings.ToLower(l.Driver)
	switch l.Driver {
	case "":
		l.Driver = "sqlite"
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: ledger.driver %q must be memory, sqlite or postgres", l.Driver)
	}
	if l.DSN == "" {
		switch l.Driver {
		case "sqlite":
			l.DSN = "leave.db"
		case "postgres":
			return fmt.Errorf("config: ledger.dsn must be set for postgres")
		}
	}
	if l.MaxConns < 0 || l.MinConns < 0 {
		return fmt.Errorf("config: ledger connection limits must not be negative")
	}
	if l.MaxConns > 0 && l.MinConns > l.MaxConns {
		return fmt.Errorf("config: ledger.min_conns must not exceed ledger.max_conns")
	}

	lifetime, err := parseDurationAllowEmpty(l.ConnMaxLifetimeRaw)
	if err != nil {
		return fmt.Errorf("config: ledger.conn_max_lifetime: %w", err)
	}
	l.ConnMaxLifetime = lifetime

	idleTime, err := parseDurationAllowEmpty(l.ConnMaxIdleTimeRaw)
	if err != nil {
		return fmt.Errorf("config: ledger.conn_max_idle_time: %w", err)
	}
	l.ConnMaxIdleTime = idleTime
	return nil
}

func (c *CRMConfig) validateAndNormalize() error {
	c.Driver = strings.ToLower(c.Driver)
	switch c.Driver {
	case "":
		c.Driver = "sqlite"
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: crm.driver %q must be sqlite or postgres", c.Driver)
	}
	if c.DSN == "" {
		if c.Driver == "postgres" {
			return fmt.Errorf("config: crm.dsn must be set for postgres")
		}
		c.DSN = "crm.db"
	}
	return nil
}

func (l *LogConfig) validateAndNormalize() error {
	if l.Level == "" {
		l.Level = "info"
	}
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	l.Format = strings.ToLower(l.Format)
	switch l.Format {
	case "":
		l.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q must be text or json", l.Format)
	}
	return nil
}

func (s *SchedulerConfig) validateAndNormalize() error {
	if s.Enabled == nil {
		enabled := true
		s.Enabled = &enabled
	}
	if s.IntervalRaw == "" {
		s.IntervalRaw = "1h"
	}
	interval, err := time.ParseDuration(s.IntervalRaw)
	if err != nil {
		return fmt.Errorf("config: scheduler.interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("config: scheduler.interval must be positive")
	}
	s.Interval = interval
	return nil
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

// NewLogger builds a logrus logger from the log section.
func (l LogConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(l.Level); err == nil {
		logger.SetLevel(level)
	}
	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
