package domain

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier"`

	// Detection pipeline settings
	Detector DetectorConfig `json:"detector"`

	// Upload limits
	Upload UploadConfig `json:"upload"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// DetectorConfig controls the anomaly ensemble and the scoring thresholds.
type DetectorConfig struct {
	// Expected fraction of anomalies, used for detector thresholds.
	Contamination float64 `json:"contamination"`

	// Isolation forest
	Trees      int   `json:"trees"`
	MaxSamples int   `json:"maxSamples"`
	Seed       int64 `json:"seed"`

	// Density clustering
	DensityEps        float64 `json:"densityEps"`
	DensityMinSamples int     `json:"densityMinSamples"`

	// Workers bounds the goroutines used to grow and walk trees.
	Workers int `json:"workers"`

	// Reporting
	TopFactors        int     `json:"topFactors"`
	HighRiskThreshold float64 `json:"highRiskThreshold"`
}

// UploadConfig limits batch uploads per tenant.
type UploadConfig struct {
	MaxBytes  int64 `json:"maxBytes"`
	PerMinute int64 `json:"perMinute"` // 0 disables throttling
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU and Go channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultDetectorConfig returns the detector settings used when nothing is overridden.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Contamination:     0.03,
		Trees:             300,
		MaxSamples:        256,
		Seed:              42,
		DensityEps:        3.0,
		DensityMinSamples: 10,
		Workers:           runtime.NumCPU(),
		TopFactors:        15,
		HighRiskThreshold: 70,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  60,
			WriteTimeout: 300,
		},
		Tier:     TierCommunity,
		Detector: DefaultDetectorConfig(),
		Upload: UploadConfig{
			MaxBytes:  64 << 20,
			PerMinute: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig picks the tier from KESTREL_TIER and applies environment overrides.
func LoadConfig() *Config {
	cfg := DefaultConfig()
	if os.Getenv("KESTREL_TIER") == string(TierPro) {
		cfg = ProConfig()
	}
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides settings from KESTREL_* environment variables.
// Unset or malformed values leave the current setting untouched.
func (c *Config) ApplyEnv() {
	envString("KESTREL_HOST", &c.Server.Host)
	envInt("KESTREL_PORT", &c.Server.Port)

	envFloat("KESTREL_CONTAMINATION", &c.Detector.Contamination)
	envInt("KESTREL_TREES", &c.Detector.Trees)
	envInt64("KESTREL_SEED", &c.Detector.Seed)
	envInt("KESTREL_WORKERS", &c.Detector.Workers)
	envFloat("KESTREL_HIGH_RISK_THRESHOLD", &c.Detector.HighRiskThreshold)

	envInt64("KESTREL_UPLOAD_MAX_BYTES", &c.Upload.MaxBytes)
	envInt64("KESTREL_UPLOADS_PER_MINUTE", &c.Upload.PerMinute)

	envString("KESTREL_DB_DRIVER", &c.Repository.Driver)
	envString("KESTREL_SQLITE_PATH", &c.Repository.SQLitePath)
	envString("KESTREL_POSTGRES_HOST", &c.Repository.PostgresHost)
	envInt("KESTREL_POSTGRES_PORT", &c.Repository.PostgresPort)
	envString("KESTREL_POSTGRES_USER", &c.Repository.PostgresUser)
	envString("KESTREL_POSTGRES_PASSWORD", &c.Repository.PostgresPassword)
	envString("KESTREL_POSTGRES_DB", &c.Repository.PostgresDB)
	envString("KESTREL_POSTGRES_SSLMODE", &c.Repository.PostgresSSLMode)

	envString("KESTREL_CACHE", &c.Cache.Type)
	envString("KESTREL_REDIS_ADDR", &c.Cache.RedisAddr)
	envString("KESTREL_REDIS_PASSWORD", &c.Cache.RedisPassword)

	envString("KESTREL_BUS", &c.EventBus.Type)
	envString("KESTREL_NATS_URL", &c.EventBus.NATSUrl)
	envString("KESTREL_NATS_TOKEN", &c.EventBus.NATSToken)

	envString("KESTREL_LOG_LEVEL", &c.Logging.Level)
	if os.Getenv("KESTREL_DEBUG") == "true" {
		c.Logging.Level = "debug"
	}
	if v := os.Getenv("KESTREL_TRACING"); v != "" {
		c.Tracing.Enabled = strings.EqualFold(v, "true")
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = v
	}
}

func envInt64(key string, dst *int64) {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		*dst = v
	}
}
