package models

// Config holds the application configuration
type Config struct {
	Server        ServerConfig      `json:"server"`
	Database      DatabaseConfig    `json:"database"`
	Dispatch      DispatchConfig    `json:"dispatch"`
	Tracing       TracingConfig     `json:"tracing"`
	Sources       []SourceConfig    `json:"sources"`
	Operators     map[string]string `json:"operators"` // api key -> operator identity
	LogLevel      string            `json:"log_level"`
	RetentionDays int               `json:"retentionDays"`
}

// ServerConfig holds HTTP server related configurations
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DispatchConfig holds outbound delivery related configurations
type DispatchConfig struct {
	Workers          int     `json:"workers"`
	QueueSize        int     `json:"queue_size"`
	TimeoutSec       int     `json:"timeout_sec"`
	MaxAttempts      int     `json:"maxAttempts"`
	InitialBackoffMs int     `json:"initialBackoffMs"`
	MaxBackoffMs     int     `json:"maxBackoffMs"`
	ProviderQPS      float64 `json:"provider_qps"`
	ProviderBurst    int     `json:"provider_burst"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// SourceConfig declares an external channel; sources are seeded into storage
// at startup and referenced by slug on the webhook path.
type SourceConfig struct {
	Slug                     string `json:"slug"`
	DisplayName              string `json:"display_name"`
	InboundSecret            string `json:"inbound_secret"`
	OutboundEndpointTemplate string `json:"outbound_endpoint_template"`
	Active                   *bool  `json:"active"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
