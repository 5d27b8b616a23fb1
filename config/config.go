package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/postgres"
	"github.com/cwrk-planet/chat-relay/internal/transport/ws"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const defaultPath = "./config/config.yaml"

type HTTP struct {
	Addr        string   `yaml:"addr" env:"HTTP_ADDR"`
	CORSOrigins []string `yaml:"corsOrigins" env:"HTTP_CORS_ORIGINS"`
}

type GRPC struct {
	Addr string `yaml:"addr" env:"GRPC_ADDR"` // empty disables the gRPC server
}

type Logging struct {
	Env       string `yaml:"env" env:"APP_ENV"`         // dev|stage|prod
	Service   string `yaml:"service" env:"LOG_SERVICE"` // chat-relay
	Version   string `yaml:"version" env:"APP_VERSION"`
	Backend   string `yaml:"backend" env:"LOG_BACKEND"` // std|zap
	Level     string `yaml:"level" env:"LOG_LEVEL"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource" env:"LOG_ADD_SOURCE"`
	Debug     bool   `yaml:"debug" env:"LOG_DEBUG"`
}

type Store struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER"` // postgres|sqlite
}

type Postgres struct {
	DSN               string        `yaml:"dsn" env:"POSTGRES_DSN"`
	MaxConns          int32         `yaml:"maxConns" env:"POSTGRES_MAX_CONNS"`
	MinConns          int32         `yaml:"minConns" env:"POSTGRES_MIN_CONNS"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime" env:"POSTGRES_MAX_CONN_LIFETIME"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime" env:"POSTGRES_MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod" env:"POSTGRES_HEALTH_CHECK_PERIOD"`
	AutoMigrate       bool          `yaml:"autoMigrate" env:"POSTGRES_AUTO_MIGRATE"`
}

type SQLite struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

type Relay struct {
	QueueSize  int           `yaml:"queueSize" env:"RELAY_QUEUE_SIZE"`
	SendBuffer int           `yaml:"sendBuffer" env:"RELAY_SEND_BUFFER"`
	PingEvery  time.Duration `yaml:"pingEvery" env:"RELAY_PING_EVERY"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Store    Store    `yaml:"store"`
	Postgres Postgres `yaml:"postgres"`
	SQLite   SQLite   `yaml:"sqlite"`
	Relay    Relay    `yaml:"relay"`
}

// LoadConfig reads the YAML file at CONFIG_PATH (default ./config/config.yaml),
// applies environment overrides and validates the result. A missing file at
// the default path is not an error: env and defaults are enough to start.
func LoadConfig() (*Config, error) {
	path, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit || path == "" {
		path, explicit = defaultPath, false
	}
	return Load(path, explicit)
}

func Load(path string, required bool) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for store.driver=postgres")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			c.SQLite.Path = "chat-relay.db"
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "chat-relay"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if !slices.Contains([]string{"", "std", "zap"}, c.Logging.Backend) {
		return fmt.Errorf("logging.backend: unknown backend %q", c.Logging.Backend)
	}

	if c.Relay.QueueSize <= 0 {
		c.Relay.QueueSize = 1024
	}
	if c.Relay.SendBuffer <= 0 {
		c.Relay.SendBuffer = 64
	}
	if c.Relay.PingEvery <= 0 {
		c.Relay.PingEvery = 15 * time.Second
	}
	return nil
}

func (c *Config) PostgresConfig() postgres.Config {
	return postgres.Config{
		DSN:               c.Postgres.DSN,
		MaxConns:          c.Postgres.MaxConns,
		MinConns:          c.Postgres.MinConns,
		MaxConnLifetime:   c.Postgres.MaxConnLifetime,
		MaxConnIdleTime:   c.Postgres.MaxConnIdleTime,
		HealthCheckPeriod: c.Postgres.HealthCheckPeriod,
		ApplicationName:   c.Logging.Service,
	}
}

func (c *Config) WSConfig() ws.Config {
	return ws.Config{
		PingEvery:      c.Relay.PingEvery,
		SendBuffer:     c.Relay.SendBuffer,
		AllowedOrigins: c.HTTP.CORSOrigins,
	}
}
