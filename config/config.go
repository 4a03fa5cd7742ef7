package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Data directory layout
	Data DataConfig

	// Classifier artifact
	Model ModelConfig

	// Database configuration (optional audit store)
	Database DatabaseConfig

	// External market data sources
	GoAPI  GoAPIConfig
	Alpaca AlpacaConfig

	// Batch fetch behaviour shared by ingestion and broker aggregation
	Fetch FetchConfig

	// Pipeline windows and scheduling
	Pipeline PipelineConfig

	// Signal engine defaults
	Signal SignalConfig

	// HTTP configuration
	HTTP HTTPConfig
}

// DataConfig holds the on-disk artifact layout
type DataConfig struct {
	Dir         string
	TickersPath string
}

// ModelConfig holds the classifier artifact location
type ModelConfig struct {
	Dir  string
	Path string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// GoAPIConfig holds the IDX market data API configuration
type GoAPIConfig struct {
	BaseURL string
	APIKey  string
}

// AlpacaConfig holds Alpaca market data configuration
type AlpacaConfig struct {
	APIKey    string
	APISecret string
}

// FetchConfig holds the worker pool and retry policy knobs shared by the
// two networked stages. PacingDelay applies after every call, success or
// failure, to respect vendor rate limits.
type FetchConfig struct {
	MaxWorkers     int
	RequestTimeout time.Duration
	MaxRetry       int
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	PacingDelay    time.Duration
}

// PipelineConfig holds stage windows and the optional cron schedule
type PipelineConfig struct {
	SnapshotWindowDays  int
	BrokerLookbackDays  int
	CronSchedule        string
	DefaultVendorSource string
}

// SignalConfig holds signal engine defaults
type SignalConfig struct {
	ThresholdDefault  float64
	PredictBatchLimit int
	StopLossReturn    float64
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port               int
	CORSAllowedOrigins string
	TimeoutSeconds     int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	modelDir := getEnvString("MODEL_DIR", "models")

	dataDir := getEnvString("DATA_DIR", "data")

	cfg := &Config{
		Data: DataConfig{
			Dir:         dataDir,
			TickersPath: getEnvString("TICKERS_FILE", dataDir+"/tickers.csv"),
		},
		Model: ModelConfig{
			Dir:  modelDir,
			Path: getEnvString("MODEL_PATH", modelDir+"/up_model.json"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		GoAPI: GoAPIConfig{
			BaseURL: getEnvString("GOAPI_BASE_URL", "https://api.goapi.io"),
			APIKey:  os.Getenv("GOAPI_API_KEY"),
		},
		Alpaca: AlpacaConfig{
			APIKey:    os.Getenv("ALPACA_API_KEY"),
			APISecret: os.Getenv("ALPACA_API_SECRET"),
		},
		Fetch: FetchConfig{
			MaxWorkers:     getEnvInt("MAX_WORKERS", 16),
			RequestTimeout: time.Duration(getEnvInt("REQ_TIMEOUT_SEC", 20)) * time.Second,
			MaxRetry:       getEnvInt("MAX_RETRY", 3),
			BackoffMin:     getEnvDurationMs("RETRY_BACKOFF_MIN_MS", 500),
			BackoffMax:     getEnvDurationMs("RETRY_BACKOFF_MAX_MS", 1500),
			PacingDelay:    getEnvDurationMs("RATE_LIMIT_SLEEP_MS", 30),
		},
		Pipeline: PipelineConfig{
			SnapshotWindowDays:  getEnvInt("SNAPSHOT_WINDOW_DAYS", 90),
			BrokerLookbackDays:  getEnvInt("BROKER_LOOKBACK_DAYS", 7),
			CronSchedule:        os.Getenv("PIPELINE_CRON"),
			DefaultVendorSource: getEnvString("VENDOR_SOURCE", "goapi"),
		},
		Signal: SignalConfig{
			ThresholdDefault:  getEnvFloat("THRESHOLD_DEFAULT", 0.35),
			PredictBatchLimit: getEnvInt("PREDICT_BATCH_LIMIT", 5000),
			StopLossReturn:    getEnvFloatUnbounded("STOP_LOSS_RETURN", -0.05),
		},
		HTTP: HTTPConfig{
			Port:               getEnvInt("PORT", 8000),
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			TimeoutSeconds:     getEnvInt("HTTP_TIMEOUT_SECONDS", 60),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Data.Dir == "" {
		return fmt.Errorf("DATA_DIR must not be empty")
	}
	if c.Fetch.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive, got %d", c.Fetch.MaxWorkers)
	}
	if c.Fetch.MaxRetry <= 0 {
		return fmt.Errorf("MAX_RETRY must be positive, got %d", c.Fetch.MaxRetry)
	}
	if c.Fetch.BackoffMax < c.Fetch.BackoffMin {
		return fmt.Errorf("RETRY_BACKOFF_MAX_MS must be >= RETRY_BACKOFF_MIN_MS")
	}
	if c.Pipeline.SnapshotWindowDays <= 0 {
		return fmt.Errorf("SNAPSHOT_WINDOW_DAYS must be positive, got %d", c.Pipeline.SnapshotWindowDays)
	}
	if c.Pipeline.BrokerLookbackDays <= 0 {
		return fmt.Errorf("BROKER_LOOKBACK_DAYS must be positive, got %d", c.Pipeline.BrokerLookbackDays)
	}
	if c.Signal.ThresholdDefault <= 0 || c.Signal.ThresholdDefault > 1 {
		return fmt.Errorf("THRESHOLD_DEFAULT must be in (0, 1], got %.2f", c.Signal.ThresholdDefault)
	}
	if c.Signal.PredictBatchLimit <= 0 {
		return fmt.Errorf("PREDICT_BATCH_LIMIT must be positive, got %d", c.Signal.PredictBatchLimit)
	}
	if c.Signal.StopLossReturn >= 0 {
		return fmt.Errorf("STOP_LOSS_RETURN must be negative, got %.2f", c.Signal.StopLossReturn)
	}
	return nil
}

// HasDatabase returns true if database configuration is available
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// HasGoAPI returns true if the IDX market data API key is configured
func (c *Config) HasGoAPI() bool {
	return c.GoAPI.APIKey != ""
}

// HasAlpaca returns true if Alpaca credentials are configured
func (c *Config) HasAlpaca() bool {
	return c.Alpaca.APIKey != "" && c.Alpaca.APISecret != ""
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationMs(key string, defaultMs int) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(defaultMs) * time.Millisecond
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil && parsed >= 0 && parsed <= 1 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatUnbounded(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		Data: DataConfig{Dir: "data", TickersPath: "data/tickers.csv"},
		Model: ModelConfig{
			Dir:  "models",
			Path: "models/up_model.json",
		},
		Database: DatabaseConfig{URL: ""},
		GoAPI: GoAPIConfig{
			BaseURL: "https://api.goapi.io",
			APIKey:  "",
		},
		Alpaca: AlpacaConfig{},
		Fetch: FetchConfig{
			MaxWorkers:     16,
			RequestTimeout: 20 * time.Second,
			MaxRetry:       3,
			BackoffMin:     500 * time.Millisecond,
			BackoffMax:     1500 * time.Millisecond,
			PacingDelay:    30 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			SnapshotWindowDays:  90,
			BrokerLookbackDays:  7,
			DefaultVendorSource: "goapi",
		},
		Signal: SignalConfig{
			ThresholdDefault:  0.35,
			PredictBatchLimit: 5000,
			StopLossReturn:    -0.05,
		},
		HTTP: HTTPConfig{
			Port:               8000,
			CORSAllowedOrigins: "*",
			TimeoutSeconds:     60,
		},
	}
}
