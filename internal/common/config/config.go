// Package config loads service configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML file named by
// CONFIG_FILE, a .env file in the working directory, process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Store    StoreConfig    `yaml:"store"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// ServerConfig configures the HTTP and gRPC listeners.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	SSLMode     string        `yaml:"ssl_mode"`
	MaxConns    int32         `yaml:"max_conns"`
	MinConns    int32         `yaml:"min_conns"`
	MaxConnTime time.Duration `yaml:"max_conn_time"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	HealthCheck time.Duration `yaml:"health_check"`
	Migrate     bool          `yaml:"migrate"`
}

// RedisConfig enables the distributed request lock and directory cache.
// An empty Addr disables Redis entirely.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DirectoryTTL time.Duration `yaml:"directory_ttl"`
}

// NATSConfig enables notification publishing and directory change events.
// An empty URL disables it.
type NATSConfig struct {
	URL              string `yaml:"url"`
	SubjectPrefix    string `yaml:"subject_prefix"`
	DirectorySubject string `yaml:"directory_subject"`
}

// StoreConfig selects the persistence backend: "postgres" or "memory".
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	LockTTL     time.Duration `yaml:"lock_ttl"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// Enabled reports whether NATS is configured.
func (c NATSConfig) Enabled() bool { return c.URL != "" }

// DSN renders the Postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-plt-approvals",
			Version:     "0.1.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8086,
			GRPCPort:        9086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "approvals",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
		},
		Redis: RedisConfig{
			DirectoryTTL: 5 * time.Minute,
		},
		NATS: NATSConfig{
			SubjectPrefix:    "notifications.approvals",
			DirectorySubject: "directory.changed",
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Engine: EngineConfig{
			LockTTL:     30 * time.Second,
			LockTimeout: 10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, file and environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if c.Engine.LockTTL <= 0 {
		return fmt.Errorf("engine lock ttl must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	num32 := func(key string, dst *int32) {
		n := int(*dst)
		num(key, &n)
		*dst = int32(n)
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("SERVICE_NAME", &cfg.Service.Name)
	str("SERVICE_VERSION", &cfg.Service.Version)
	str("ENVIRONMENT", &cfg.Service.Environment)
	str("LOG_LEVEL", &cfg.Service.LogLevel)

	num("HTTP_PORT", &cfg.Server.Port)
	num("GRPC_PORT", &cfg.Server.GRPCPort)
	dur("HTTP_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	dur("HTTP_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	dur("HTTP_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	dur("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	str("DB_HOST", &cfg.Database.Host)
	num("DB_PORT", &cfg.Database.Port)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_NAME", &cfg.Database.Database)
	str("DB_SSL_MODE", &cfg.Database.SSLMode)
	num32("DB_MAX_CONNS", &cfg.Database.MaxConns)
	num32("DB_MIN_CONNS", &cfg.Database.MinConns)
	flag("DB_MIGRATE", &cfg.Database.Migrate)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	num("REDIS_DB", &cfg.Redis.DB)
	dur("REDIS_DIRECTORY_TTL", &cfg.Redis.DirectoryTTL)

	str("NATS_URL", &cfg.NATS.URL)
	str("NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix)
	str("NATS_DIRECTORY_SUBJECT", &cfg.NATS.DirectorySubject)

	str("STORE_DRIVER", &cfg.Store.Driver)
	dur("ENGINE_LOCK_TTL", &cfg.Engine.LockTTL)
	dur("ENGINE_LOCK_TIMEOUT", &cfg.Engine.LockTimeout)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
