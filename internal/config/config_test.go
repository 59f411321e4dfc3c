package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.Workers.Concurrency)
	assert.Equal(t, time.Second, cfg.Workers.PollingInterval)
	assert.Equal(t, 100, cfg.Workers.SampleSize)
	assert.Equal(t, 60*time.Second, cfg.Locks.TTL)
	assert.Equal(t, "sqlite", cfg.Locks.Backend)
	assert.Equal(t, ":8080", cfg.GetServerAddr())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
workers:
  concurrency: 2
  polling_interval: 250ms
locks:
  ttl: 10s
events:
  kafka_brokers: ["localhost:9092"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Workers.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Workers.PollingInterval)
	assert.Equal(t, 10*time.Second, cfg.Locks.TTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PIPELINE_WORKERS_CONCURRENCY", "7")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers.Concurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"no concurrency", func(c *Config) { c.Workers.Concurrency = 0 }},
		{"tiny ttl", func(c *Config) { c.Locks.TTL = time.Second }},
		{"unknown backend", func(c *Config) { c.Locks.Backend = "redis" }},
		{"etcd without endpoints", func(c *Config) { c.Locks.Backend = "etcd" }},
		{"no cache size", func(c *Config) { c.Cache.MaxBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadWithFlags(t *testing.T) {
	t.Setenv("PIPELINE_SERVER_PORT", "9000")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("server.port", 8080, "")
	flags.String("data_dir", "data", "")
	require.NoError(t, flags.Parse([]string{"--server.port=9100"}))

	cfg, err := LoadWithFlags(filepath.Join(t.TempDir(), "missing-is-fine-without-path"), nil)
	assert.Error(t, err, "an explicit path must exist")
	assert.Nil(t, cfg)

	cfg, err = LoadWithFlags("", flags)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "data", cfg.DataDir)
}
