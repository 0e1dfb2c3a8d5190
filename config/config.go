// Package config loads the appbridge configuration from a YAML file and
// APPBRIDGE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/toolink/appbridge/blocker"
	"github.com/toolink/appbridge/channel"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APPBRIDGE_"

// Transport types
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportFile   = "file"
)

// Log formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Protocol int    `yaml:"protocol" env:"PROTOCOL"` // RESP version, 0 picks the client default
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // "console" or "json"
	File   string `yaml:"file" env:"FILE"`     // rotated log file, empty disables

	MaxSizeMB  int `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// Config is the configuration of one appbridge process.
type Config struct {
	AppGroup  string      `yaml:"app_group" env:"APP_GROUP"`
	Transport string      `yaml:"transport" env:"TRANSPORT"`
	Redis     RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	Directory string      `yaml:"directory" env:"DIRECTORY"` // shared container for the file transport

	// SingleInstance lets one main app per app group answer on the redis
	// transport.
	SingleInstance bool          `yaml:"single_instance" env:"SINGLE_INSTANCE"`
	LockTTL        time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`

	QueueSize      int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
	Debounce       time.Duration `yaml:"debounce" env:"DEBOUNCE"`

	Extensions []string `yaml:"extensions" env:"EXTENSIONS" envSeparator:","`
	Store      string   `yaml:"store" env:"STORE"`

	Log LogConfig `yaml:"log" envPrefix:"LOG_"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Transport:      TransportMemory,
		SingleInstance: true,
		LockTTL:        10 * time.Second,
		Redis:          RedisConfig{Addr: "localhost:6379"},
		QueueSize:      channel.DefaultQueueSize,
		PublishTimeout: channel.DefaultPublishTimeout,
		Debounce:       500 * time.Millisecond,
		Store:          blocker.StoreMemory,
		Log: LogConfig{
			Level:      "info",
			Format:     FormatConsole,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

type loadOptions struct {
	dotenv      []string
	environment map[string]string
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithDotEnv loads files into the process environment before overrides are
// read. Missing files are skipped; variables already set win.
func WithDotEnv(files ...string) LoadOption {
	return func(o *loadOptions) {
		o.dotenv = append(o.dotenv, files...)
	}
}

// WithEnvironment reads overrides from environ instead of the process
// environment.
func WithEnvironment(environ map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.environment = environ
	}
}

// Load reads path (optional), applies environment overrides and validates
// the result.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("config file loaded")
	}

	for _, file := range o.dotenv {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: load %s: %w", file, err)
		}
		log.Debug().Str("path", file).Msg("dotenv file loaded")
	}

	envOpts := env.Options{Prefix: EnvPrefix}
	if o.environment != nil {
		envOpts.Environment = o.environment
	}
	if err := env.Parse(cfg, envOpts); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := channel.ValidateNamespace(c.AppGroup); err != nil {
		result = multierror.Append(result, err)
	}

	switch c.Transport {
	case TransportMemory:
	case TransportRedis:
		if c.Redis.Addr == "" {
			result = multierror.Append(result, errors.New("redis.addr is required for the redis transport"))
		}
	case TransportFile:
		if c.Directory == "" {
			result = multierror.Append(result, errors.New("directory is required for the file transport"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("invalid transport: %s, must be '%s', '%s' or '%s'", c.Transport, TransportMemory, TransportRedis, TransportFile))
	}

	switch c.Store {
	case blocker.StoreMemory:
	case blocker.StoreRedis:
		if c.Redis.Addr == "" {
			result = multierror.Append(result, errors.New("redis.addr is required for the redis store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("invalid store: %s, must be '%s' or '%s'", c.Store, blocker.StoreMemory, blocker.StoreRedis))
	}

	if c.QueueSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("queue_size must be positive, got %d", c.QueueSize))
	}
	if c.PublishTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("publish_timeout must be positive, got %s", c.PublishTimeout))
	}
	if c.SingleInstance && c.LockTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("lock_ttl must be positive, got %s", c.LockTTL))
	}
	if c.Debounce < 0 {
		result = multierror.Append(result, fmt.Errorf("debounce cannot be negative, got %s", c.Debounce))
	}

	if len(c.Extensions) == 0 {
		result = multierror.Append(result, errors.New("at least one content blocker bundle id is required in extensions"))
	}
	for i, id := range c.Extensions {
		if id == "" {
			result = multierror.Append(result, fmt.Errorf("extensions[%d] is empty", i))
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid log.level: %w", err))
	}
	if c.Log.Format != FormatConsole && c.Log.Format != FormatJSON {
		result = multierror.Append(result, fmt.Errorf("invalid log.format: %s, must be '%s' or '%s'", c.Log.Format, FormatConsole, FormatJSON))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RedisRequired reports whether the transport or the store needs Redis.
func (c *Config) RedisRequired() bool {
	return c.Transport == TransportRedis || c.Store == blocker.StoreRedis
}
