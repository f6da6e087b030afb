package constants

import "time"

const (
	DefaultBrokerURL            = "wss://www.hitoko.co.id/erp/ws-mqtt/mqtt"
	DefaultBrokerOrigin         = "https://www.hitoko.co.id"
	DefaultMarketplaceCode      = "00"
	DefaultReconnectPeriod      = 5 * time.Second
	DefaultConnectTimeout       = 3 * time.Second
	DefaultKeepAlive            = 60 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultSubscribeQoS         = 1
	ClientIDPrefix              = "user"
)

const (
	DefaultWebhookUserAgent = "Hitoko-Pusher/1.0"
	DefaultHTTPTimeout      = 10 * time.Second
	DefaultDrainTimeout     = 30 * time.Second
)

const (
	// Customer and seller sentinels for fromAccountType/toAccountType.
	AccountTypeBuyer  = "1"
	AccountTypeSeller = "2"
)

const (
	TemplateText  = "00"
	TemplateImage = "01"
)

const (
	DefaultDedupWindow   = 5 * time.Minute
	CacheKeyPrefixDedup  = "dedup:"
	DedupStoreMemory     = "memory"
	DedupStoreRedis      = "redis"
	DedupMetricsInterval = 30 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultSessionPageSize = 30
	SessionStatusActive    = 3
)

const (
	ServicePusher = "pusher-service"
	ServiceReply  = "reply-service"
)
