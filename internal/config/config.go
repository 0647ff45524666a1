package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultMaxFileSizeBytes is 500 MiB
	DefaultMaxFileSizeBytes int64 = 500 << 20
	DefaultQueueName              = "video_jobs"
	DefaultPageSize               = 50
	DefaultMaxPageSize            = 100
)

// DefaultAllowedExtensions are accepted when upload.allowed_extensions is empty
var DefaultAllowedExtensions = []string{".mp4"}

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Upload    UploadConfig    `yaml:"upload"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// The exchange and queue are always declared durable.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name string `yaml:"name"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings.
// RetryAttempts of 0 means a failed publish is reported immediately.
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Confirm           bool          `yaml:"confirm"`
}

// StorageConfig holds S3-compatible object storage configuration
type StorageConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// RedisConfig holds Redis configuration for the status cache and rate limiter
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// UploadConfig is the upload acceptance policy
type UploadConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxFileSizeBytes  int64    `yaml:"max_file_size_bytes"`
}

// TimeoutsConfig bounds each external call made while serving a request
type TimeoutsConfig struct {
	Storage time.Duration `yaml:"storage"`
	Record  time.Duration `yaml:"record"`
	Publish time.Duration `yaml:"publish"`
	Query   time.Duration `yaml:"query"`
}

// RateLimitConfig limits submissions per client IP. Zero disables the limit.
type RateLimitConfig struct {
	SubmissionsPerMinute int `yaml:"submissions_per_minute"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file. ${VAR} references are expanded
// from the environment before parsing, then defaults are applied.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	return &config, nil
}

// envRef matches ${VAR}. A bare $VAR or a lone $ is kept literally so values
// such as passwords may contain dollar signs.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with the environment value, empty when unset
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// ApplyDefaults fills unset options with their defaults
func (c *Config) ApplyDefaults() {
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	}
	for i, ext := range c.Upload.AllowedExtensions {
		c.Upload.AllowedExtensions[i] = strings.ToLower(strings.TrimSpace(ext))
	}
	if c.Upload.MaxFileSizeBytes == 0 {
		c.Upload.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}

	if c.Timeouts.Storage == 0 {
		c.Timeouts.Storage = 60 * time.Second
	}
	if c.Timeouts.Record == 0 {
		c.Timeouts.Record = 5 * time.Second
	}
	if c.Timeouts.Publish == 0 {
		c.Timeouts.Publish = 5 * time.Second
	}
	if c.Timeouts.Query == 0 {
		c.Timeouts.Query = 5 * time.Second
	}

	if c.Server.DefaultPageSize == 0 {
		c.Server.DefaultPageSize = DefaultPageSize
	}
	if c.Server.MaxPageSize == 0 {
		c.Server.MaxPageSize = DefaultMaxPageSize
	}

	if c.RabbitMQ.Queue.Name == "" {
		c.RabbitMQ.Queue.Name = DefaultQueueName
	}
	if c.RabbitMQ.Exchange.Name == "" {
		c.RabbitMQ.Exchange.Name = c.RabbitMQ.Queue.Name
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = c.RabbitMQ.Queue.Name
	}

	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 10 * time.Minute
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.RabbitMQ.Publish.RetryAttempts < 0 {
		return fmt.Errorf("rabbitmq publish retry_attempts must not be negative")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("upload allowed_extensions must not be empty")
	}

	for _, ext := range c.Upload.AllowedExtensions {
		if len(ext) < 2 || !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("invalid upload extension %q (must start with a dot)", ext)
		}
	}

	if c.Upload.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("upload max_file_size_bytes must be greater than 0")
	}

	if c.Timeouts.Storage <= 0 || c.Timeouts.Record <= 0 || c.Timeouts.Publish <= 0 || c.Timeouts.Query <= 0 {
		return fmt.Errorf("timeouts must be greater than 0")
	}

	if c.Server.DefaultPageSize <= 0 || c.Server.MaxPageSize < c.Server.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default %d, max %d", c.Server.DefaultPageSize, c.Server.MaxPageSize)
	}

	if c.RateLimit.SubmissionsPerMinute < 0 {
		return fmt.Errorf("rate_limit submissions_per_minute must not be negative")
	}

	return nil
}
