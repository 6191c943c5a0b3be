package config

import "time"

// VideoService definition video_service YAML structure
type VideoService struct {
	Port string `mapstructure:"port"`
	IP   string `mapstructure:"ip"`

	PostgreSQL DatabaseConfig  `mapstructure:"pg"`
	Redis      RedisConfig     `mapstructure:"redis"`
	MinIO      MinIOConfig     `mapstructure:"minio"`
	Mongo      DatabaseConfig  `mapstructure:"mongo"`
	KafKa      KafkaConfig     `mapstructure:"kafka"`
	RabbitMQ   RabbitMQConfig  `mapstructure:"rabbitmq"`
	Queue      QueueConfig     `mapstructure:"queue"`
	Search     SearchConfig    `mapstructure:"search"`
	Video      VideoConfig     `mapstructure:"video"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// Worker definition processing_worker YAML structure
type Worker struct {
	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	Redis      RedisConfig    `mapstructure:"redis"`
	MinIO      MinIOConfig    `mapstructure:"minio"`
	KafKa      KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
	Queue      QueueConfig    `mapstructure:"queue"`

	// PollInterval 佇列為空時的輪詢間隔（秒）
	PollInterval  int    `mapstructure:"poll_interval"`
	OutputBaseDir string `mapstructure:"output_base_dir"`
}

// QueueConfig definition job queue setting
type QueueConfig struct {
	// Backend memory / postgres / rabbitmq
	Backend string `mapstructure:"backend"`
	Name    string `mapstructure:"name"`
	// VisibilityTimeout 取出後未 ack 的重派時限（秒）
	VisibilityTimeout int `mapstructure:"visibility_timeout"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	// RetryBaseDelay 重試退避基礎延遲（秒）
	RetryBaseDelay int `mapstructure:"retry_base_delay"`
}

// SearchConfig definition search strategy setting
type SearchConfig struct {
	// UseIndex true 走全文索引策略，false 走 repository 策略
	UseIndex  bool   `mapstructure:"use_index"`
	IndexName string `mapstructure:"index_name"`
}

// VideoConfig definition upload constraint
type VideoConfig struct {
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`
	// MaxSize 上傳大小上限（bytes）
	MaxSize int64 `mapstructure:"max_size"`
}

// RateLimitConfig definition rate limit setting
type RateLimitConfig struct {
	Limit    int `mapstructure:"limit"`
	WindowMs int `mapstructure:"window_ms"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	RedisDB int `mapstructure:"redis_db"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryCount    int      `mapstructure:"retry_count"`
	RetryInterval int      `mapstructure:"retry_interval"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP       string `mapstructure:"ip"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}
