package main

import (
	"fmt"
	"os"
	"time"

	"ojsubmit/internal/common/cache"
	"ojsubmit/internal/common/db"
	"ojsubmit/internal/common/mq"
	"ojsubmit/internal/common/storage"
	"ojsubmit/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// TopicsConfig names the topics the judge service reads and writes.
type TopicsConfig struct {
	Results     string `yaml:"results"`
	Progress    string `yaml:"progress"`
	Retry       string `yaml:"retry"`
	DeadLetter  string `yaml:"deadLetter"`
	StatusFinal string `yaml:"statusFinal"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize      int           `yaml:"poolSize"`
	SlotWait      time.Duration `yaml:"slotWait"`
	PoolRetryMax  int           `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration `yaml:"poolRetryMaxDelay"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	EmptyTTL       time.Duration `yaml:"emptyTTL"`
	Timeout        time.Duration `yaml:"timeout"`
	PublishTimeout time.Duration `yaml:"publishTimeout"`
}

// ArchiveConfig holds raw output archive settings.
type ArchiveConfig struct {
	Bucket  string        `yaml:"bucket"`
	Level   int           `yaml:"level"`
	Timeout time.Duration `yaml:"timeout"`
}

// AppConfig holds judge-service configuration.
type AppConfig struct {
	Server ServerConfig      `yaml:"server"`
	Logger logger.Config     `yaml:"logger"`
	Redis  cache.RedisConfig `yaml:"redis"`
	// Database is optional. When set, status reads fall back to persisted
	// final statuses.
	Database db.MySQLConfig      `yaml:"database"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	Consumer mq.ConsumerConfig   `yaml:"consumer"`
	Topics   TopicsConfig        `yaml:"topics"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Worker   WorkerConfig        `yaml:"worker"`
	Status   StatusConfig        `yaml:"status"`
	Archive  ArchiveConfig       `yaml:"archive"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Logger.Service == "" {
		cfg.Logger.Service = "judge-service"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Topics.Results == "" {
		cfg.Topics.Results = "judge.results"
	}
	if cfg.Topics.Progress == "" {
		cfg.Topics.Progress = "judge.progress"
	}
	if cfg.Topics.DeadLetter == "" {
		cfg.Topics.DeadLetter = cfg.Topics.Results + ".dlq"
	}
	if cfg.Topics.StatusFinal == "" {
		cfg.Topics.StatusFinal = "judge.status.final"
	}
	cfg.Consumer.DeadLetterTopic = cfg.Topics.DeadLetter

	if cfg.Worker.PoolSize == 0 {
		cfg.Worker.PoolSize = 8
	}
	if cfg.Worker.PoolRetryMax == 0 {
		cfg.Worker.PoolRetryMax = 5
	}
	if cfg.Worker.PoolRetryBase == 0 {
		cfg.Worker.PoolRetryBase = time.Second
	}
	if cfg.Worker.PoolRetryMaxD == 0 {
		cfg.Worker.PoolRetryMaxD = 30 * time.Second
	}
	if cfg.Consumer.Concurrency == 0 {
		cfg.Consumer.Concurrency = cfg.Worker.PoolSize
	}

	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = 24 * time.Hour
	}
	if cfg.Status.EmptyTTL == 0 {
		cfg.Status.EmptyTTL = 30 * time.Second
	}
	if cfg.Status.Timeout == 0 {
		cfg.Status.Timeout = 2 * time.Second
	}
	if cfg.Status.PublishTimeout == 0 {
		cfg.Status.PublishTimeout = 3 * time.Second
	}

	if cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = "judge-results"
	}
	if cfg.Archive.Level == 0 {
		cfg.Archive.Level = 3
	}
	if cfg.Archive.Timeout == 0 {
		cfg.Archive.Timeout = 10 * time.Second
	}

	return &cfg, nil
}
