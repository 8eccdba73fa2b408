package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samvad-hq/cps-sink-connector/pkg/cps"
	"github.com/spf13/viper"
)

const (
	// FailurePolicyFail stops the consumer session on the first failed publish.
	FailurePolicyFail = "fail"
	// FailurePolicyDeadLetter hands failed records to the dead-letter sink.
	FailurePolicyDeadLetter = "deadletter"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	CPSProject string `mapstructure:"cps_project"`
	CPSTopic   string `mapstructure:"cps_topic"`
	// RawMaxMessageSize is resolved leniently into MaxMessageSize.
	RawMaxMessageSize string `mapstructure:"cps_max_message_size"`
	MaxMessageSize    int    `mapstructure:"-"`
	PublisherCount    int    `mapstructure:"publisher_count"`
	VerifyTopic       bool   `mapstructure:"verify_topic"`

	KafkaBrokersRaw string   `mapstructure:"kafka_brokers"`
	KafkaBrokers    []string `mapstructure:"-"`
	KafkaGroupID    string   `mapstructure:"kafka_group_id"`
	KafkaTopicsRaw  string   `mapstructure:"kafka_topics"`
	KafkaTopics     []string `mapstructure:"-"`

	FlushBatchSize  int           `mapstructure:"flush_batch_size"`
	FlushIntervalMs int64         `mapstructure:"flush_interval_ms"`
	FlushInterval   time.Duration `mapstructure:"-"`
	FlushTimeoutMs  int64         `mapstructure:"flush_timeout_ms"`
	FlushTimeout    time.Duration `mapstructure:"-"`
	DrainTimeoutMs  int64         `mapstructure:"drain_timeout_ms"`
	DrainTimeout    time.Duration `mapstructure:"-"`

	FailurePolicy    string `mapstructure:"failure_policy"`
	DeadLetterType   string `mapstructure:"deadletter_type"`
	DeadLetterTarget string `mapstructure:"deadletter_target"`
	DeadLetterRegion string `mapstructure:"deadletter_region"`

	StorageType string `mapstructure:"storage_type"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "cps-sink-connector")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("cps_project", "")
	v.SetDefault("cps_topic", "")
	v.SetDefault("cps_max_message_size", "")
	v.SetDefault("publisher_count", 1)
	v.SetDefault("verify_topic", true)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_group_id", "cps-sink-connector")
	v.SetDefault("kafka_topics", "")
	v.SetDefault("flush_batch_size", 100)
	v.SetDefault("flush_interval_ms", 1000)
	v.SetDefault("flush_timeout_ms", 30000)
	v.SetDefault("drain_timeout_ms", 30000)
	v.SetDefault("failure_policy", FailurePolicyFail)
	v.SetDefault("deadletter_type", "")
	v.SetDefault("deadletter_target", "")
	v.SetDefault("deadletter_region", "")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/checkpoints.db")
	v.SetDefault("metrics_addr", ":9090")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize derives computed fields and validates the result.
func (cfg *Config) normalize() error {
	cfg.MaxMessageSize = cps.ParseMaxMessageSize(cfg.RawMaxMessageSize)

	if strings.TrimSpace(cfg.CPSProject) == "" {
		return fmt.Errorf("cps_project is required")
	}
	if strings.TrimSpace(cfg.CPSTopic) == "" {
		return fmt.Errorf("cps_topic is required")
	}
	if cfg.PublisherCount <= 0 {
		return fmt.Errorf("invalid publisher_count (must be positive)")
	}

	cfg.KafkaBrokers = splitList(cfg.KafkaBrokersRaw)
	if len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka_brokers is required")
	}
	cfg.KafkaTopics = splitList(cfg.KafkaTopicsRaw)
	if len(cfg.KafkaTopics) == 0 {
		return fmt.Errorf("kafka_topics is required")
	}
	if strings.TrimSpace(cfg.KafkaGroupID) == "" {
		return fmt.Errorf("kafka_group_id is required")
	}

	if cfg.FlushBatchSize <= 0 {
		return fmt.Errorf("invalid flush_batch_size (must be positive)")
	}
	if cfg.FlushIntervalMs <= 0 {
		return fmt.Errorf("invalid flush_interval_ms (must be positive milliseconds)")
	}
	cfg.FlushInterval = time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	if cfg.FlushTimeoutMs <= 0 {
		return fmt.Errorf("invalid flush_timeout_ms (must be positive milliseconds)")
	}
	cfg.FlushTimeout = time.Duration(cfg.FlushTimeoutMs) * time.Millisecond
	if cfg.DrainTimeoutMs <= 0 {
		return fmt.Errorf("invalid drain_timeout_ms (must be positive milliseconds)")
	}
	cfg.DrainTimeout = time.Duration(cfg.DrainTimeoutMs) * time.Millisecond

	cfg.FailurePolicy = strings.ToLower(strings.TrimSpace(cfg.FailurePolicy))
	switch cfg.FailurePolicy {
	case FailurePolicyFail:
	case FailurePolicyDeadLetter:
		if strings.TrimSpace(cfg.DeadLetterType) == "" {
			return fmt.Errorf("deadletter_type is required when failure_policy is %q", FailurePolicyDeadLetter)
		}
	default:
		return fmt.Errorf("unsupported failure_policy %q", cfg.FailurePolicy)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
