package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	FlightBox FlightBoxConfig `yaml:"flightbox"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "postgres" | "mongo" | "memory"
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	PositionReportedTopicName string `yaml:"position_reported_topic_name"`
	FlightCompletedTopicName  string `yaml:"flight_completed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FlightBoxConfig struct {
	GRPCAddr                  string `yaml:"grpc_addr"`
	HTTPAddr                  string `yaml:"http_addr"`
	KafkaConsumerGroup        string `yaml:"kafka_consumer_group"`
	CurrentPositionTTLSeconds int    `yaml:"current_position_ttl_seconds"`
	RecentPathLimit           int    `yaml:"recent_path_limit"`
	MaxTrackingPoints         int    `yaml:"max_tracking_points"`
	IngestRateLimitPerMinute  int    `yaml:"ingest_rate_limit_per_minute"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Feed poller.
	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`
	WorkerFeedRatePerMinute   int `yaml:"worker_feed_rate_per_minute"`
	// Backoff after failed polls, defaults 5/15/30/60 seconds.
	WorkerBackoff1Seconds int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds int `yaml:"worker_backoff_4_seconds"`

	// Lifecycle sweeper.
	WorkerSweepIntervalSeconds int     `yaml:"worker_sweep_interval_seconds"`
	WorkerIdleTimeoutSeconds   int     `yaml:"worker_idle_timeout_seconds"`
	WorkerSweepBatchSize       int     `yaml:"worker_sweep_batch_size"`
	WorkerCompletionsPerSecond float64 `yaml:"worker_completions_per_second"`
	WorkerRepair               bool    `yaml:"worker_repair"`

	Feeds []FeedConfig `yaml:"feeds"`
}

// FeedConfig is one receiver feed polled by the worker.
type FeedConfig struct {
	ReceiverID string `yaml:"receiver_id"`
	Kind       string `yaml:"kind"` // "dump1090" | "fake"
	URL        string `yaml:"url"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
