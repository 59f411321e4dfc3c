package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full configuration of the pipeline processes
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	DataDir string        `mapstructure:"data_dir"`
	Workers WorkersConfig `mapstructure:"workers"`
	Locks   LocksConfig   `mapstructure:"locks"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Events  EventsConfig  `mapstructure:"events"`
	Remote  RemoteConfig  `mapstructure:"remote"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PublicMaxAge time.Duration `mapstructure:"public_max_age"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	AddSource bool   `mapstructure:"add_source"`
}

// StoreConfig locates the document store and the index database
type StoreConfig struct {
	Path      string `mapstructure:"path"`
	IndexPath string `mapstructure:"index_path"`
}

// WorkersConfig tunes the stage pollers
type WorkersConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	SampleSize      int           `mapstructure:"sample_size"`
	Stages          []string      `mapstructure:"stages"`
}

// LocksConfig selects and tunes the lease backend
type LocksConfig struct {
	Backend       string        `mapstructure:"backend"` // sqlite or etcd
	TTL           time.Duration `mapstructure:"ttl"`
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints"`
	EtcdPrefix    string        `mapstructure:"etcd_prefix"`
}

// CacheConfig configures the tile cache
type CacheConfig struct {
	Path     string `mapstructure:"path"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// EventsConfig configures where lifecycle events are published
type EventsConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// RemoteConfig tunes calls to remote enrichment services
type RemoteConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	Rate      float64       `mapstructure:"rate"`
	Burst     int           `mapstructure:"burst"`
	BatchSize int           `mapstructure:"batch_size"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.public_max_age", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("store.path", "pipeline.db")
	v.SetDefault("store.index_path", "index.db")
	v.SetDefault("data_dir", "data")
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.polling_interval", time.Second)
	v.SetDefault("workers.sample_size", 100)
	v.SetDefault("locks.backend", "sqlite")
	v.SetDefault("locks.ttl", 60*time.Second)
	v.SetDefault("locks.etcd_prefix", "/pipeline/locks")
	v.SetDefault("cache.path", "cache.boltdb")
	v.SetDefault("cache.max_bytes", int64(1000)*1000*1000)
	v.SetDefault("events.kafka_topic", "dataset-events")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.retries", 3)
	v.SetDefault("remote.rate", 10.0)
	v.SetDefault("remote.burst", 10)
	v.SetDefault("remote.batch_size", 100)
}

// Load reads the configuration file (optional), environment variables
// prefixed with PIPELINE_ and defaults, then validates the result.
func Load(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags is Load where the flags of flags that were set on the
// command line override every other source. Flag names are config keys
// with dots, e.g. "server.port".
func LoadWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if flags != nil {
		var bindErr error
		flags.Visit(func(f *pflag.Flag) {
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration made of default values only.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := FromViper(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s, must be 'json' or 'text'", c.Log.Format)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers.concurrency must be positive, got %d", c.Workers.Concurrency)
	}
	if c.Workers.PollingInterval <= 0 {
		return fmt.Errorf("workers.polling_interval must be positive")
	}

	switch c.Locks.Backend {
	case "sqlite":
	case "etcd":
		if len(c.Locks.EtcdEndpoints) == 0 {
			return fmt.Errorf("locks.etcd_endpoints is required with the etcd backend")
		}
	default:
		return fmt.Errorf("invalid locks backend: %s, must be 'sqlite' or 'etcd'", c.Locks.Backend)
	}
	// heartbeat runs at ttl/2 and must stay strictly below ttl
	if c.Locks.TTL < 2*time.Second {
		return fmt.Errorf("locks.ttl must be at least 2s, got %s", c.Locks.TTL)
	}

	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes must be positive")
	}
	if c.Remote.Rate <= 0 || c.Remote.Burst <= 0 {
		return fmt.Errorf("remote.rate and remote.burst must be positive")
	}
	return nil
}

// GetServerAddr returns the listen address of the HTTP API
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
