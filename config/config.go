/*
Package config reads the server configuration from the environment.

SOURCES (later wins):
  1. Defaults below
  2. .env in the working directory, if present
  3. Process environment
  4. Command-line flags (applied by cmd/server)

VARIABLES:
  PORT              HTTP port                            8080
  STORE_DRIVER      sqlite | bolt | postgres | memory    sqlite
  DB_PATH           sqlite / bolt file                   quotes.db
  DATABASE_URL      postgres DSN
  INITIAL_CASH      opening cash balance                 50000
  RESTOCK_BUFFER    units above MinStock per restock     200
  LOCK_TIMEOUT      writer lock bound                    5s
  REDIS_ADDRESS     shared locks; empty = in-process
  KAFKA_BROKERS     comma list; empty = log publisher
  LOG_LEVEL         debug | info | warn | error          info
  LOG_FORMAT        json | text                          json
  RESTOCK_INTERVAL  restock sweep period; 0 disables     1h
  SEED_CATALOG      load the default catalog at start    false
*/
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
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port            int
	StoreDriver     string
	DBPath          string
	DatabaseURL     string
	InitialCash     decimal.Decimal
	RestockBuffer   int
	LockTimeout     time.Duration
	RedisAddress    string
	KafkaBrokers    []string
	LogLevel        string
	LogFormat       string
	RestockInterval time.Duration
	SeedCatalog     bool
}

// Drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func Default() Config {
	return Config{
		Port:            8080,
		StoreDriver:     DriverSQLite,
		DBPath:          "quotes.db",
		InitialCash:     decimal.NewFromInt(50000),
		RestockBuffer:   200,
		LockTimeout:     5 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
		RestockInterval: time.Hour,
	}
}

// Load reads .env (if any) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, starting from Default.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("PORT", &c.Port)
	str("STORE_DRIVER", &c.StoreDriver)
	str("DB_PATH", &c.DBPath)
	str("DATABASE_URL", &c.DatabaseURL)
	num("RESTOCK_BUFFER", &c.RestockBuffer)
	dur("LOCK_TIMEOUT", &c.LockTimeout)
	str("REDIS_ADDRESS", &c.RedisAddress)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	dur("RESTOCK_INTERVAL", &c.RestockInterval)

	if v := strings.TrimSpace(getenv("INITIAL_CASH")); v != "" {
		cash, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("INITIAL_CASH: %w", err))
		} else {
			c.InitialCash = cash
		}
	}
	if v := strings.TrimSpace(getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}
	if v := strings.TrimSpace(getenv("SEED_CATALOG")); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SEED_CATALOG: %w", err))
		} else {
			c.SeedCatalog = seed
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverBolt, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.RestockBuffer < 0 {
		return fmt.Errorf("RESTOCK_BUFFER must not be negative")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.InitialCash.IsNegative() {
		return fmt.Errorf("INITIAL_CASH must not be negative")
	}
	return nil
}

// =============================================================================
// LOGGING
// =============================================================================

// NewLogger returns a logger writing to stdout. Unknown levels fall back to
// info, unknown formats to JSON.
func NewLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	const ts = "2006-01-02T15:04:05.000Z07:00"
	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: ts})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: ts})
	}
	return logger
}
