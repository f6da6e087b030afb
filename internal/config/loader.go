package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pusher/internal/constants"
)

// LoadConfig reads configuration from an optional YAML file, a .env file in the
// working directory and the process environment, in increasing priority.
func LoadConfig(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file.path", "")
	viper.SetDefault("logging.file.max_size_mb", 100)
	viper.SetDefault("logging.file.max_backups", 5)
	viper.SetDefault("logging.file.max_age_days", 14)

	viper.SetDefault("broker.url", constants.DefaultBrokerURL)
	viper.SetDefault("broker.username", "user")
	viper.SetDefault("broker.password", "")
	viper.SetDefault("broker.company_id", "")
	viper.SetDefault("broker.shop_id", "")
	viper.SetDefault("broker.marketplace_code", constants.DefaultMarketplaceCode)
	viper.SetDefault("broker.qos", constants.DefaultSubscribeQoS)
	viper.SetDefault("broker.reconnect_period", constants.DefaultReconnectPeriod)
	viper.SetDefault("broker.connect_timeout", constants.DefaultConnectTimeout)
	viper.SetDefault("broker.keepalive", constants.DefaultKeepAlive)
	viper.SetDefault("broker.max_reconnect_attempts", constants.DefaultMaxReconnectAttempts)
	viper.SetDefault("broker.origin", constants.DefaultBrokerOrigin)
	viper.SetDefault("broker.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36")
	viper.SetDefault("broker.insecure_skip_verify", false)

	viper.SetDefault("forwarder.webhook_urls", "")
	viper.SetDefault("forwarder.user_agent", constants.DefaultWebhookUserAgent)
	viper.SetDefault("forwarder.timeout", constants.DefaultHTTPTimeout)
	viper.SetDefault("forwarder.forward_unparsed", true)
	viper.SetDefault("forwarder.drain_timeout", constants.DefaultDrainTimeout)
	viper.SetDefault("forwarder.retry.max_attempts", 3)
	viper.SetDefault("forwarder.retry.initial_interval", "1s")
	viper.SetDefault("forwarder.retry.max_interval", "30s")
	viper.SetDefault("forwarder.retry.multiplier", 2.0)

	viper.SetDefault("deduplication.store", constants.DedupStoreMemory)
	viper.SetDefault("deduplication.window", constants.DefaultDedupWindow)
	viper.SetDefault("deduplication.on_redis_error", constants.FallbackAllow)

	viper.SetDefault("database.redis.addr", "")
	viper.SetDefault("database.redis.password", "")
	viper.SetDefault("database.redis.db", 0)

	viper.SetDefault("filtering.expression", "")

	viper.SetDefault("circuit_breaker.enabled", false)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "60s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 5)

	viper.SetDefault("hitoko.base_url", "")
	viper.SetDefault("hitoko.auth_token", "")
	viper.SetDefault("hitoko.timeout", constants.DefaultHTTPTimeout)

	viper.SetDefault("reply_api.rate_limit.enabled", true)
	viper.SetDefault("reply_api.rate_limit.rps", 10.0)
	viper.SetDefault("reply_api.rate_limit.burst", 20)
	viper.SetDefault("reply_api.rate_limit.cleanup_interval", "5m")
	viper.SetDefault("reply_api.rate_limit.max_age", "10m")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", "")
	viper.SetDefault("tracing.otlp.endpoint", "localhost:4317")
	viper.SetDefault("tracing.otlp.insecure", true)
	viper.SetDefault("tracing.sampler.type", "parentbased_always_on")
	viper.SetDefault("tracing.sampler.param", 1.0)
}

// bindEnvVariables maps the variable names used by existing deployments.
func bindEnvVariables() {
	viper.BindEnv("broker.url", "HITOKO_WS_URL")
	viper.BindEnv("broker.username", "HITOKO_MQTT_USERNAME")
	viper.BindEnv("broker.password", "HITOKO_MQTT_PASSWORD")
	viper.BindEnv("broker.shop_id", "SHOP_ID")
	viper.BindEnv("broker.company_id", "COMPANY_ID")
	viper.BindEnv("broker.marketplace_code", "MARKETPLACE_CODE")

	viper.BindEnv("forwarder.webhook_urls", "WEBHOOK_URL")

	viper.BindEnv("hitoko.base_url", "HITOKO_API_BASE")
	viper.BindEnv("hitoko.auth_token", "HITOKO_AUTH_TOKEN")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("database.redis.addr", "REDIS_ADDR")

	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
}

func normalize(cfg *Config) {
	cfg.Broker.URL = strings.TrimSpace(cfg.Broker.URL)
	cfg.Broker.ShopID = strings.TrimSpace(cfg.Broker.ShopID)
	cfg.Broker.MarketplaceCode = strings.TrimSpace(cfg.Broker.MarketplaceCode)
	cfg.Hitoko.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Hitoko.BaseURL), "/")
	cfg.Deduplication.Store = strings.ToLower(strings.TrimSpace(cfg.Deduplication.Store))
	cfg.Deduplication.OnRedisError = strings.ToLower(strings.TrimSpace(cfg.Deduplication.OnRedisError))
}
