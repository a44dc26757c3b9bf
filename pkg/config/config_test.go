package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 4.0, cfg.Tokenizer.FieldWeights.Name)
}

func TestLoadDevelopmentConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "development.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Indexer.SyncInterval)
	assert.Equal(t, "package-updates", cfg.Kafka.Topics.PackageUpdates)
	assert.Equal(t, 1.5, cfg.Ranking.ExactKeywordMultiplier)
	assert.Equal(t, 1.25, cfg.Ranking.PrefixNameMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.Indexer.SyncTimeout)
	assert.Equal(t, time.Minute, cfg.Indexer.SnapshotTimeout)
	assert.Contains(t, cfg.Tokenizer.Stopwords, "the")
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  defaultLimit: 10\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxResults)
	assert.Equal(t, 500, cfg.Indexer.BatchSize)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PS_STORE_BACKEND", "postgres")
	t.Setenv("PS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PS_REDIS_ADDR", "cache:6379")
	t.Setenv("PS_SERVER_PORT", "9999")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"store backend":     func(c *Config) { c.Store.Backend = "sqlite" },
		"snapshot backend":  func(c *Config) { c.Snapshot.Backend = "s3" },
		"limits":            func(c *Config) { c.Search.MaxResults = 5 },
		"exact multiplier":  func(c *Config) { c.Ranking.ExactNameMultiplier = 0.5 },
		"saturation":        func(c *Config) { c.Ranking.SaturationDownloads = 0 },
		"prefix below one":  func(c *Config) { c.Ranking.PrefixNameMultiplier = 0.9 },
		"prefix over exact": func(c *Config) { c.Ranking.PrefixNameMultiplier = 3.0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
