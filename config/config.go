package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ScadaFlow ScadaFlowConfig `yaml:"scadaflow"`
}

// ScadaFlowConfig is the project configuration.
type ScadaFlowConfig struct {
	Input       InputConfig       `yaml:"input"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Security    SecurityConfig    `yaml:"security"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Connections ConnectionsConfig `yaml:"connections"`
	Query       QueryConfig       `yaml:"query"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InputConfig controls the feed reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls the Redis feed list.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls queue sizes and shutdown draining.
type PipelineConfig struct {
	IngestLanes   int           `yaml:"ingest_lanes"`
	LaneQueueSize int           `yaml:"lane_queue_size"`
	EvalQueueSize int           `yaml:"eval_queue_size"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// CorrelationConfig controls the rule engine.
type CorrelationConfig struct {
	RulesPath  string        `yaml:"rules_path"`
	BufferSize int           `yaml:"buffer_size"`
	Skew       time.Duration `yaml:"skew"`
}

// SecurityConfig controls the Sigma tagger.
type SecurityConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RulesPath string `yaml:"rules_path"`
}

// PersistenceConfig controls the durable entry store.
type PersistenceConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Mode          string           `yaml:"mode"` // file|nats|clickhouse
	File          FileConfig       `yaml:"file"`
	NATS          NATSConfig       `yaml:"nats"`
	ClickHouse    ClickHouseConfig `yaml:"clickhouse"`
	QueueSize     int              `yaml:"queue_size"`
	BatchSize     int              `yaml:"batch_size"`
	FlushInterval time.Duration    `yaml:"flush_interval"`
	MaxRetries    int              `yaml:"max_retries"`
	RetryBackoff  time.Duration    `yaml:"retry_backoff"`
	DeadLetterDir string           `yaml:"dead_letter_dir"`
}

// ClickHouseConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseConfig struct {
	URL             string            `yaml:"url"`
	Database        string            `yaml:"database"`
	Table           string            `yaml:"table"`
	AlarmTable      string            `yaml:"alarm_table"`
	ConnectionTable string            `yaml:"connection_table"`
	Username        string            `yaml:"username"`
	Password        string            `yaml:"password"`
	Timeout         time.Duration     `yaml:"timeout"`
	Headers         map[string]string `yaml:"headers"`
}

// WebhookConfig config for posting alerts to a remote endpoint.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// AlertingConfig controls where fired alerts go.
type AlertingConfig struct {
	StoreSize     int           `yaml:"store_size"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
	File          FileConfig    `yaml:"file"`
	NATS          NATSConfig    `yaml:"nats"`
	Webhook       WebhookConfig `yaml:"webhook"`
}

// NATSConfig config for a NATS destination.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// FileConfig config for local JSON output.
type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ConnectionsConfig controls the feed registry.
type ConnectionsConfig struct {
	SweepInterval time.Duration      `yaml:"sweep_interval"`
	StaleAfter    time.Duration      `yaml:"stale_after"`
	Static        []StaticConnection `yaml:"static"`
}

// StaticConnection declares a feed known at startup.
type StaticConnection struct {
	ConnectionID string `yaml:"connection_id"`
	System       string `yaml:"system"`
	Node         string `yaml:"node"`
	Address      string `yaml:"address"`
	Protocol     string `yaml:"protocol"`
}

// QueryConfig controls the read API.
type QueryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
