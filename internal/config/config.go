package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Logging        LoggingConfig
	Broker         BrokerConfig
	Forwarder      ForwarderConfig
	Deduplication  DeduplicationConfig
	Database       DatabaseConfig
	Filtering      FilteringConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Hitoko         HitokoConfig
	ReplyAPI       ReplyAPIConfig `mapstructure:"reply_api"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// BrokerConfig describes the vendor MQTT-over-WebSocket connection.
type BrokerConfig struct {
	URL                  string        `mapstructure:"url"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	CompanyID            string        `mapstructure:"company_id"`
	ShopID               string        `mapstructure:"shop_id"`
	MarketplaceCode      string        `mapstructure:"marketplace_code"`
	QoS                  int           `mapstructure:"qos"`
	ReconnectPeriod      time.Duration `mapstructure:"reconnect_period"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	KeepAlive            time.Duration `mapstructure:"keepalive"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	Origin               string        `mapstructure:"origin"`
	UserAgent            string        `mapstructure:"user_agent"`
	InsecureSkipVerify   bool          `mapstructure:"insecure_skip_verify"`
}

// Topic is the single subscription topic: marketplace code followed by shop id.
func (c BrokerConfig) Topic() string {
	return c.MarketplaceCode + c.ShopID
}

type ForwarderConfig struct {
	WebhookURLs     string        `mapstructure:"webhook_urls"`
	UserAgent       string        `mapstructure:"user_agent"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ForwardUnparsed bool          `mapstructure:"forward_unparsed"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type DeduplicationConfig struct {
	Store        string        `mapstructure:"store"`
	Window       time.Duration `mapstructure:"window"`
	OnRedisError string        `mapstructure:"on_redis_error"`
}

type DatabaseConfig struct {
	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type FilteringConfig struct {
	Expression string `mapstructure:"expression"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// HitokoConfig is the vendor REST API used for replies and shop lookups.
type HitokoConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (c HitokoConfig) Enabled() bool {
	return c.BaseURL != "" && c.AuthToken != ""
}

type ReplyAPIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
