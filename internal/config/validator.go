package config

import (
	"fmt"
	"net/url"
	"strings"

	"pusher/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks settings shared by every binary.
func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateForwarder(cfg.Forwarder); err != nil {
		errors = append(errors, err)
	}

	if err := validateDeduplication(cfg.Deduplication, cfg.Database.Redis); err != nil {
		errors = append(errors, err)
	}

	if err := validateCircuitBreaker(cfg.CircuitBreaker); err != nil {
		errors = append(errors, err)
	}

	return joinValidation(errors)
}

// ValidatePusher checks what the ingestion worker needs on top of ValidateStatic.
func ValidatePusher(cfg *Config) error {
	var errors []error

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	return joinValidation(errors)
}

// ValidateReply checks what the reply API needs on top of ValidateStatic.
func ValidateReply(cfg *Config) error {
	var errors []error

	if err := validateHitoko(cfg.Hitoko); err != nil {
		errors = append(errors, err)
	}

	return joinValidation(errors)
}

func joinValidation(errors []error) error {
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.URL == "" {
		return &ValidationError{
			Field:   "broker.url",
			Message: "broker URL is required",
		}
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return &ValidationError{
			Field:   "broker.url",
			Message: fmt.Sprintf("invalid broker URL: %v", err),
		}
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "tcp", "ssl", "tls", "mqtt", "mqtts":
	default:
		return &ValidationError{
			Field:   "broker.url",
			Message: fmt.Sprintf("unsupported broker scheme: %s (supported: ws, wss, tcp, ssl, tls, mqtt, mqtts)", u.Scheme),
		}
	}

	if cfg.ShopID == "" {
		return &ValidationError{
			Field:   "broker.shop_id",
			Message: "shop ID is required to compute the subscription topic",
		}
	}

	if cfg.QoS < 0 || cfg.QoS > 2 {
		return &ValidationError{
			Field:   "broker.qos",
			Message: fmt.Sprintf("qos must be 0, 1 or 2, got %d", cfg.QoS),
		}
	}

	if cfg.MaxReconnectAttempts < 0 {
		return &ValidationError{
			Field:   "broker.max_reconnect_attempts",
			Message: "max_reconnect_attempts must be non-negative",
		}
	}

	if cfg.ReconnectPeriod <= 0 {
		return &ValidationError{
			Field:   "broker.reconnect_period",
			Message: "reconnect period must be positive",
		}
	}

	return nil
}

func validateForwarder(cfg ForwarderConfig) error {
	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   "forwarder.timeout",
			Message: "timeout must be positive",
		}
	}

	if cfg.Retry.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "forwarder.retry.max_attempts",
			Message: "max_attempts must be at least 1",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "forwarder.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "forwarder.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "forwarder.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig, redis RedisConfig) error {
	switch cfg.Store {
	case constants.DedupStoreMemory:
	case constants.DedupStoreRedis:
		if redis.Addr == "" {
			return &ValidationError{
				Field:   "database.redis.addr",
				Message: "redis address is required when deduplication.store is redis",
			}
		}
	default:
		return &ValidationError{
			Field:   "deduplication.store",
			Message: fmt.Sprintf("invalid store: %s (valid: memory, redis)", cfg.Store),
		}
	}

	if cfg.Window <= 0 {
		return &ValidationError{
			Field:   "deduplication.window",
			Message: "window must be positive",
		}
	}

	switch cfg.OnRedisError {
	case constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "deduplication.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, deny)", cfg.OnRedisError),
		}
	}

	return nil
}

func validateCircuitBreaker(cfg CircuitBreakerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.FailureRatio < 0 || cfg.FailureRatio > 1 {
		return &ValidationError{
			Field:   "circuit_breaker.failure_ratio",
			Message: fmt.Sprintf("failure_ratio must be between 0 and 1, got %v", cfg.FailureRatio),
		}
	}

	return nil
}

func validateHitoko(cfg HitokoConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "hitoko.base_url",
			Message: "vendor API base URL is required",
		}
	}

	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return &ValidationError{
			Field:   "hitoko.base_url",
			Message: "vendor API base URL must start with http:// or https://",
		}
	}

	if cfg.AuthToken == "" {
		return &ValidationError{
			Field:   "hitoko.auth_token",
			Message: "vendor API auth token is required",
		}
	}

	return nil
}
