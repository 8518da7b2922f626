package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	P2PFlow   P2PFlowConfig   `yaml:"p2pflow"`
	Source    SourceConfig    `yaml:"source"`
	Reader    ReaderConfig    `yaml:"reader"`
	Filter    FilterConfig    `yaml:"filter"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type P2PFlowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
}

type BinanceSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	URL            string               `yaml:"url"`
	Asset          string               `yaml:"asset"`
	Fiat           string               `yaml:"fiat"`
	Rows           int                  `yaml:"rows"`
	Pages          int                  `yaml:"pages"`
	PayTypes       []string             `yaml:"pay_types"`
	Shape          string               `yaml:"shape"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ReaderConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type FilterConfig struct {
	// PriceTolerance is the acceptance-band fraction around the reference
	// price. Listings priced outside reference*(1±tolerance) are rejected.
	PriceTolerance float64 `yaml:"price_tolerance"`
}

type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	Schema    string `yaml:"schema"`
	Table     string `yaml:"table"`
	MaxConns  int    `yaml:"max_conns"`
	BatchSize int    `yaml:"batch_size"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Filter: FilterConfig{PriceTolerance: 0.10},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	src := &cfg.Source.Binance
	if src.Rows <= 0 {
		src.Rows = 20
	}
	if src.Pages <= 0 {
		src.Pages = 10
	}
	if src.Shape == "" {
		src.Shape = "adv"
	}
	if cfg.Reader.Timeout <= 0 {
		cfg.Reader.Timeout = 10 * time.Second
	}
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = 2 * time.Minute
	}
	pg := &cfg.Storage.Postgres
	if pg.Schema == "" {
		pg.Schema = "public"
	}
	if pg.Table == "" {
		pg.Table = "p2p_anuncios"
	}
	if pg.MaxConns <= 0 {
		pg.MaxConns = 2
	}
	if pg.BatchSize <= 0 {
		pg.BatchSize = 200
	}
}

func applyEnvOverrides(cfg *Config) {
	// The PaaS deployment injects the database URL through the environment.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Postgres.DSN = strings.TrimSpace(v)
	}

	if cfg.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.P2PFlow.Name == "" {
		return fmt.Errorf("p2pflow.name is required")
	}
	if cfg.P2PFlow.Version == "" {
		return fmt.Errorf("p2pflow.version is required")
	}

	src := cfg.Source.Binance
	if src.Enabled {
		if src.URL == "" {
			return fmt.Errorf("source.binance.url is required when the source is enabled")
		}
		if src.Asset == "" || src.Fiat == "" {
			return fmt.Errorf("source.binance.asset and source.binance.fiat are required")
		}
		if src.Shape != "adv" && src.Shape != "flat" {
			return fmt.Errorf("source.binance.shape '%s' is invalid (want adv or flat)", src.Shape)
		}
	}

	if cfg.Filter.PriceTolerance <= 0 || cfg.Filter.PriceTolerance >= 1 {
		return fmt.Errorf("filter.price_tolerance must be in (0, 1)")
	}

	if cfg.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required (or set DATABASE_URL)")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 archiving is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 archiving is enabled")
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}
