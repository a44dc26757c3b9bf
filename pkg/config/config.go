// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Store, Indexer, Snapshot,
// Tokenizer, Ranking, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables every Kafka integration.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// Enabled reports whether at least one broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PackageUpdates string `yaml:"packageUpdates"`
	IndexSynced    string `yaml:"indexSynced"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// StoreConfig selects the Record Store backend ("memory" or "postgres").
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// IndexerConfig controls the index writer: how many changes are applied per
// generation, how often the background sync ticks, and how failed ticks are
// retried.
type IndexerConfig struct {
	BatchSize         int           `yaml:"batchSize"`
	SyncInterval      time.Duration `yaml:"syncInterval"`
	RetryAttempts     int           `yaml:"retryAttempts"`
	RetryInitialDelay time.Duration `yaml:"retryInitialDelay"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay"`

	// SyncTimeout bounds one sync run, which is shared by every caller that
	// joins it and so does not follow any single caller's context.
	SyncTimeout     time.Duration `yaml:"syncTimeout"`
	SnapshotTimeout time.Duration `yaml:"snapshotTimeout"`
}

// SnapshotConfig controls where index generations are persisted.
type SnapshotConfig struct {
	Backend       string      `yaml:"backend"` // "local" or "minio"
	DataDir       string      `yaml:"dataDir"`
	KeepSnapshots int         `yaml:"keepSnapshots"`
	Compression   int         `yaml:"compressionLevel"`
	Minio         MinioConfig `yaml:"minio"`
}

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Secure    bool   `yaml:"secure"`
}

// TokenizerConfig defines the field schema and the splitting policy shared by
// indexing and query parsing.
type TokenizerConfig struct {
	FieldWeights FieldWeights `yaml:"fieldWeights"`
	Joiners      string       `yaml:"joiners"`
	Stopwords    []string     `yaml:"stopwords"`
	MinTokenLen  int          `yaml:"minTokenLen"`
	Stemming     bool         `yaml:"stemming"`
}

// FieldWeights assigns a lexical weight to every indexed field.
type FieldWeights struct {
	Name        float64 `yaml:"name"`
	Keywords    float64 `yaml:"keywords"`
	Description float64 `yaml:"description"`
	Readme      float64 `yaml:"readme"`
}

// RankingConfig tunes the blend of lexical relevance, popularity and
// exact-match bonuses.
type RankingConfig struct {
	MaxPopularityBoost     float64 `yaml:"maxPopularityBoost"`
	SaturationDownloads    float64 `yaml:"saturationDownloads"`
	RecentDownloadsWeight  float64 `yaml:"recentDownloadsWeight"`
	ExactNameMultiplier    float64 `yaml:"exactNameMultiplier"`
	ExactKeywordMultiplier float64 `yaml:"exactKeywordMultiplier"`

	// PrefixNameMultiplier applies when the name starts with the query
	// followed by a joiner, as in "serde" against "serde-json".
	PrefixNameMultiplier float64 `yaml:"prefixNameMultiplier"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults   int           `yaml:"maxResults"`
	DefaultLimit int           `yaml:"defaultLimit"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "pkgsearch",
			User:            "pkgsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "pkgsearch-group",
			Topics: KafkaTopics{
				PackageUpdates: "package-updates",
				IndexSynced:    "index.synced",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Indexer: IndexerConfig{
			BatchSize:         500,
			SyncInterval:      5 * time.Second,
			RetryAttempts:     3,
			RetryInitialDelay: 200 * time.Millisecond,
			RetryMaxDelay:     5 * time.Second,
			SyncTimeout:       5 * time.Minute,
			SnapshotTimeout:   time.Minute,
		},
		Snapshot: SnapshotConfig{
			Backend:       "local",
			DataDir:       "data/index",
			KeepSnapshots: 2,
			Compression:   3,
		},
		Tokenizer: TokenizerConfig{
			FieldWeights: FieldWeights{
				Name:        4.0,
				Keywords:    2.5,
				Description: 1.0,
				Readme:      0.3,
			},
			Joiners: "-_",
			Stopwords: []string{
				"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
				"in", "is", "it", "of", "on", "or", "that", "the", "this", "to",
				"was", "with",
			},
			MinTokenLen: 1,
		},
		Ranking: RankingConfig{
			MaxPopularityBoost:     1.0,
			SaturationDownloads:    1e9,
			RecentDownloadsWeight:  0,
			ExactNameMultiplier:    3.0,
			ExactKeywordMultiplier: 1.5,
			PrefixNameMultiplier:   1.25,
		},
		Search: SearchConfig{
			MaxResults:   100,
			DefaultLimit: 20,
			QueryTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("invalid store backend %q", c.Store.Backend)
	}
	switch c.Snapshot.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("invalid snapshot backend %q", c.Snapshot.Backend)
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("indexer.batchSize must be positive, got %d", c.Indexer.BatchSize)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: defaultLimit=%d maxResults=%d",
			c.Search.DefaultLimit, c.Search.MaxResults)
	}
	if c.Ranking.ExactNameMultiplier < 1 || c.Ranking.ExactKeywordMultiplier < 1 {
		return fmt.Errorf("exact-match multipliers must be >= 1")
	}
	if c.Ranking.PrefixNameMultiplier < 1 || c.Ranking.PrefixNameMultiplier >= c.Ranking.ExactNameMultiplier {
		return fmt.Errorf("prefix name multiplier must be in [1, exactNameMultiplier): %v", c.Ranking.PrefixNameMultiplier)
	}
	if c.Ranking.MaxPopularityBoost < 0 || c.Ranking.SaturationDownloads <= 0 {
		return fmt.Errorf("popularity settings invalid: maxBoost=%v saturation=%v",
			c.Ranking.MaxPopularityBoost, c.Ranking.SaturationDownloads)
	}
	return nil
}

// applyEnvOverrides reads PS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("PS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("PS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("PS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("PS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PS_SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.DataDir = v
	}
	if v := os.Getenv("PS_MINIO_ENDPOINT"); v != "" {
		cfg.Snapshot.Minio.Endpoint = v
	}
	if v := os.Getenv("PS_MINIO_ACCESS_KEY"); v != "" {
		cfg.Snapshot.Minio.AccessKey = v
	}
	if v := os.Getenv("PS_MINIO_SECRET_KEY"); v != "" {
		cfg.Snapshot.Minio.SecretKey = v
	}
	if v := os.Getenv("PS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
