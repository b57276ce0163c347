package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Concierge orchestration core.
type Config struct {
	Port    int
	Version string

	Descriptors DescriptorConfig
	Triage      TriageConfig
	Dispatch    DispatchConfig
	Tools       ToolsConfig
	LLM         LLMConfig
	Weather     WeatherConfig
	Scheduler   SchedulerConfig
	Synthesis   SynthesisConfig
	Audit       AuditConfig
	Telemetry   TelemetryConfig
}

type DescriptorConfig struct {
	// Dir holds the YAML operation descriptor files loaded at startup.
	Dir string
}

type TriageConfig struct {
	// HighConfidence selects every domain scoring at or above it.
	HighConfidence float64
	// LowConfidence is the floor below which no domain is trusted and
	// the turn falls back to the setup-guide agent.
	LowConfidence float64
}

type DispatchConfig struct {
	// Timeout bounds each capability-agent dispatch independently.
	Timeout time.Duration
}

type ToolsConfig struct {
	BaseURL       string
	ApplicationID string
	// MaxAttempts bounds transient-failure retries per call.
	MaxAttempts int
	// BackoffBase is the first retry delay; grows exponentially.
	BackoffBase time.Duration
	Timeout     time.Duration
}

type LLMConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
	// RequestsPerSecond rate-limits scoring and narrative calls.
	RequestsPerSecond float64
	Burst             int
}

type WeatherConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type SchedulerConfig struct {
	// AverageSpeedKmh converts haversine distance to travel time.
	AverageSpeedKmh float64
	// TransitBufferMin pads every occupied interval.
	TransitBufferMin int
	// BlockFactor is the slowdown at or above which a transit leg is
	// treated as impassable.
	BlockFactor float64
	// TwoOptMaxIterations caps the improvement passes.
	TwoOptMaxIterations int
	DayStartHour        int
	DayEndHour          int
	// DepotLat/DepotLng locate the HQ the first transit leg departs from.
	DepotLat float64
	DepotLng float64
}

type SynthesisConfig struct {
	// EchoThreshold is the Jaccard similarity above which a narrative
	// counts as a restatement of the user's input and is suppressed.
	EchoThreshold float64
}

type AuditConfig struct {
	// DatabaseURL enables the Postgres audit store when set; empty
	// keeps the in-memory store.
	DatabaseURL string

	// RetentionMaxAge is how long invocation records are kept before
	// the janitor prunes them.
	RetentionMaxAge time.Duration

	// RetentionInterval is how often the janitor sweeps.
	RetentionInterval time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CONCIERGE_PORT", 8080),
		Version: envStr("CONCIERGE_VERSION", "0.2.0"),
		Descriptors: DescriptorConfig{
			Dir: envStr("CONCIERGE_DESCRIPTOR_DIR", ""),
		},
		Triage: TriageConfig{
			HighConfidence: envFloat("TRIAGE_HIGH_CONFIDENCE", 0.8),
			LowConfidence:  envFloat("TRIAGE_LOW_CONFIDENCE", 0.4),
		},
		Dispatch: DispatchConfig{
			Timeout: envDur("DISPATCH_TIMEOUT", 30*time.Second),
		},
		Tools: ToolsConfig{
			BaseURL:       envStr("BACKEND_BASE_URL", "http://localhost:9000"),
			ApplicationID: envStr("BACKEND_APPLICATION_ID", "mypetparlorapp"),
			MaxAttempts:   envInt("BACKEND_MAX_ATTEMPTS", 3),
			BackoffBase:   envDur("BACKEND_BACKOFF_BASE", 250*time.Millisecond),
			Timeout:       envDur("BACKEND_TIMEOUT", 10*time.Second),
		},
		LLM: LLMConfig{
			Endpoint:          envStr("LLM_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:            envStr("LLM_API_KEY", ""),
			Model:             envStr("LLM_MODEL", "gpt-4o-mini"),
			Timeout:           envDur("LLM_TIMEOUT", 20*time.Second),
			RequestsPerSecond: envFloat("LLM_REQUESTS_PER_SECOND", 5),
			Burst:             envInt("LLM_BURST", 10),
		},
		Weather: WeatherConfig{
			Endpoint: envStr("WEATHER_ENDPOINT", ""),
			Timeout:  envDur("WEATHER_TIMEOUT", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			AverageSpeedKmh:     envFloat("SCHEDULER_AVERAGE_SPEED_KMH", 40),
			TransitBufferMin:    envInt("SCHEDULER_TRANSIT_BUFFER_MIN", 5),
			BlockFactor:         envFloat("SCHEDULER_WEATHER_BLOCK_FACTOR", 3.0),
			TwoOptMaxIterations: envInt("SCHEDULER_TWO_OPT_MAX_ITERATIONS", 200),
			DayStartHour:        envInt("SCHEDULER_DAY_START_HOUR", 8),
			DayEndHour:          envInt("SCHEDULER_DAY_END_HOUR", 18),
			DepotLat:            envFloat("HQ_LATITUDE", 0),
			DepotLng:            envFloat("HQ_LONGITUDE", 0),
		},
		Synthesis: SynthesisConfig{
			EchoThreshold: envFloat("SYNTHESIS_ECHO_THRESHOLD", 0.9),
		},
		Audit: AuditConfig{
			DatabaseURL:       envStr("AUDIT_DATABASE_URL", ""),
			RetentionMaxAge:   envDur("AUDIT_RETENTION_MAX_AGE", 30*24*time.Hour),
			RetentionInterval: envDur("AUDIT_RETENTION_INTERVAL", time.Hour),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "concierge"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
