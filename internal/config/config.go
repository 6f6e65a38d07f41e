package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
)

// Cursor checkpoint backends.
const (
	CursorNone     = "none"
	CursorRedis    = "redis"
	CursorSQLite   = "sqlite"
	CursorPostgres = "postgres"
)

// Components that can be enabled in one process.
const (
	ComponentCollector = "collector"
	ComponentDetector  = "detector"
	ComponentGateway   = "gateway"
)

// DetectorStartTail makes a detector without a checkpoint skip history and
// consume only entries appended after it starts.
const DetectorStartTail = "$"

// Config holds all service settings, populated from environment variables.
type Config struct {
	Stations          []string
	ProviderBaseURL   string
	ProviderUserAgent string
	ProviderTimeout   time.Duration
	ProviderRateLimit float64 // requests per second

	// Circuit breaker around the provider client.
	BreakerFailures int
	BreakerTimeout  time.Duration

	WindSpeedThreshold    float64 // mph
	PressureDropThreshold float64 // mb/hour
	SleepInterval         time.Duration

	StoreBackend      string
	RedisURL          string
	KafkaBrokers      []string
	StoreBlockTimeout time.Duration
	StreamMaxLen      int

	DetectorStart         string
	DetectorHistorySize   int
	DetectorHistoryWindow time.Duration

	CursorBackend string
	CursorDSN     string

	Components []string

	// MQTT alert bridge; disabled when MQTTBroker is empty.
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	HTTPAddr         string
	// Extra browser origins allowed on the WebSocket endpoints.
	WSOriginPatterns []string

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	providerTimeout, err := parseDuration("PROVIDER_TIMEOUT", "10s")
	collect(err)
	rateLimit, err := parsePositiveFloat("PROVIDER_RATE_LIMIT", "2")
	collect(err)
	breakerFailures, err := parseInt("PROVIDER_BREAKER_FAILURES", "5", 1)
	collect(err)
	breakerTimeout, err := parseDuration("PROVIDER_BREAKER_TIMEOUT", "60s")
	collect(err)
	windThreshold, err := parsePositiveFloat("WIND_SPEED_THRESHOLD", "50")
	collect(err)
	pressureThreshold, err := parsePositiveFloat("PRESSURE_DROP_THRESHOLD", "4")
	collect(err)
	sleepInterval, err := parseSeconds("COLLECTOR_SLEEP_INTERVAL", "300")
	collect(err)
	blockTimeout, err := parseDuration("STORE_BLOCK_TIMEOUT", "5s")
	collect(err)
	streamMaxLen, err := parseInt("STREAM_MAX_LEN", "0", 0)
	collect(err)
	historySize, err := parseInt("DETECTOR_HISTORY_SIZE", "12", 2)
	collect(err)
	historyWindow, err := parseDuration("DETECTOR_HISTORY_WINDOW", "3h")
	collect(err)
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg := &Config{
		Stations:          ParseList(EnvOrDefault("STATIONS", "KPDX,KSEA,KBOI")),
		ProviderBaseURL:   strings.TrimRight(EnvOrDefault("PROVIDER_BASE_URL", "https://api.weather.gov"), "/"),
		ProviderUserAgent: EnvOrDefault("PROVIDER_USER_AGENT", "storm-alert-pipeline (ops@example.com)"),
		ProviderTimeout:   providerTimeout,
		ProviderRateLimit: rateLimit,
		BreakerFailures:   breakerFailures,
		BreakerTimeout:    breakerTimeout,

		WindSpeedThreshold:    windThreshold,
		PressureDropThreshold: pressureThreshold,
		SleepInterval:         sleepInterval,

		StoreBackend:      strings.ToLower(EnvOrDefault("STORE_BACKEND", BackendRedis)),
		RedisURL:          EnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		KafkaBrokers:      ParseList(EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		StoreBlockTimeout: blockTimeout,
		StreamMaxLen:      streamMaxLen,

		DetectorStart:         EnvOrDefault("DETECTOR_START", "0"),
		DetectorHistorySize:   historySize,
		DetectorHistoryWindow: historyWindow,

		CursorBackend: strings.ToLower(EnvOrDefault("CURSOR_BACKEND", CursorNone)),
		CursorDSN:     EnvOrDefault("CURSOR_DSN", ""),

		Components: ParseList(strings.ToLower(EnvOrDefault("COMPONENTS", "collector,detector,gateway"))),

		MQTTBroker:      EnvOrDefault("MQTT_BROKER", ""),
		MQTTClientID:    EnvOrDefault("MQTT_CLIENT_ID", "stormwatch"),
		MQTTTopicPrefix: strings.TrimRight(EnvOrDefault("MQTT_TOPIC_PREFIX", "stormwatch"), "/"),

		HTTPAddr:         EnvOrDefault("HTTP_ADDR", ":8080"),
		WSOriginPatterns: ParseList(EnvOrDefault("WS_ORIGIN_PATTERNS", "")),

		LogLevel:        EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Stations) == 0 {
		return errors.New("STATIONS is required")
	}
	switch c.StoreBackend {
	case BackendMemory, BackendRedis:
	case BackendKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when STORE_BACKEND=kafka")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q (allowed: memory, redis, kafka)", c.StoreBackend)
	}
	switch c.CursorBackend {
	case CursorNone, CursorRedis:
	case CursorSQLite, CursorPostgres:
		if c.CursorDSN == "" {
			return fmt.Errorf("CURSOR_DSN is required when CURSOR_BACKEND=%s", c.CursorBackend)
		}
	default:
		return fmt.Errorf("invalid CURSOR_BACKEND %q (allowed: none, redis, sqlite, postgres)", c.CursorBackend)
	}
	if c.DetectorStart != DetectorStartTail {
		if _, err := stream.ParseEntryID(c.DetectorStart); err != nil {
			return fmt.Errorf("invalid DETECTOR_START: %w", err)
		}
	}
	if len(c.Components) == 0 {
		return errors.New("COMPONENTS is required")
	}
	for _, comp := range c.Components {
		if !slices.Contains([]string{ComponentCollector, ComponentDetector, ComponentGateway}, comp) {
			return fmt.Errorf("invalid COMPONENTS entry %q (allowed: collector, detector, gateway)", comp)
		}
	}
	return nil
}

// Enabled reports whether a component should run in this process.
func (c *Config) Enabled(component string) bool {
	return slices.Contains(c.Components, component)
}
