package constants

// Default server configuration values
const (
	DefaultServerPort            = 8080
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
)

// Default outbound dispatch values
const (
	DefaultDispatchWorkers      = 4
	DefaultDispatchQueueSize    = 256
	DefaultDeliveryTimeoutSec   = 10
	DefaultDeliveryMaxAttempts  = 5
	DefaultDeliveryBackoffMs    = 60000
	DefaultDeliveryMaxBackoffMs = 480000
	DefaultProviderQPS          = 10
	DefaultProviderBurst        = 5
)

// Default database values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultRetentionDays         = 30
)

// Default scheduler values
const (
	CleanupSchedulerIntervalHours = 24
	DefaultReconcileIntervalSec   = 300
	DefaultReconcileStaleSec      = 600
	DefaultReconcileBatchSize     = 100
)

// Default conversation read values
const (
	DefaultConversationListLimit = 100
)
