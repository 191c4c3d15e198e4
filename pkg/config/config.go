package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/custodia/cls/internal/registry"
	"github.com/custodia/cls/pkg/logger"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Custody     CustodyConfig     `yaml:"custody"`
	Attestation AttestationConfig `yaml:"attestation"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Security    SecurityConfig    `yaml:"security"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Logger      logger.Config     `yaml:"logger"`
	Chains      []registry.Chain  `yaml:"chains"` // overrides for the built-in chain table
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
}

type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            string `yaml:"port"`
	User            string `yaml:"user"`
	DBName          string `yaml:"name"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

type CustodyConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type AttestationConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type BridgeConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollWindow        time.Duration `yaml:"poll_window"`
	ConcurrentWorkers int           `yaml:"concurrent_workers"`
	DispatchBatchSize int           `yaml:"dispatch_batch_size"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	DedupeTTL time.Duration `yaml:"dedupe_ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type SecurityConfig struct {
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	CheckOrigin     bool          `yaml:"check_origin"`
	PingPeriod      time.Duration `yaml:"ping_period"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		return nil, err
	}

	var config Config
	configData, err := os.ReadFile("./config.yaml")
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(configData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Bridge.PollInterval == 0 {
		c.Bridge.PollInterval = 5 * time.Second
	}
	if c.Bridge.PollWindow == 0 {
		c.Bridge.PollWindow = 30 * time.Minute
	}
	if c.Bridge.ConcurrentWorkers == 0 {
		c.Bridge.ConcurrentWorkers = 8
	}
	if c.Bridge.DispatchBatchSize == 0 {
		c.Bridge.DispatchBatchSize = 50
	}
	if c.Redis.DedupeTTL == 0 {
		c.Redis.DedupeTTL = 24 * time.Hour
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "transfer_lifecycle"
	}
}
