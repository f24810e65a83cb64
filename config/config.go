package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	ProviderConfig  ProviderConfig  `json:"provider"`
	ScanConfig      ScanConfig      `json:"scan"`
	StructureConfig StructureConfig `json:"structure"`
	FVGConfig       FVGConfig       `json:"fvg"`
	AlertConfig     AlertConfig     `json:"alerts"`
	ServerConfig    ServerConfig    `json:"server"`
	RedisConfig     RedisConfig     `json:"redis"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// ProviderConfig selects and configures the candle source.
type ProviderConfig struct {
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	MockMode     bool   `json:"mock_mode"`     // Use the deterministic mock generator
	MockSeed     int64  `json:"mock_seed"`     // Seed for the mock generator (0 = fixed default)
	FetchTimeout int    `json:"fetch_timeout"` // Seconds per candle fetch
	MaxRetries   int    `json:"max_retries"`   // Retries on transient fetch errors
}

// ScanConfig drives the periodic scan scheduler.
type ScanConfig struct {
	Symbols              []string `json:"symbols"`
	Timeframes           []string `json:"timeframes"`
	ScanIntervalSeconds  int      `json:"scan_interval_seconds"`
	MaxConcurrentSymbols int      `json:"max_concurrent_symbols"`
	CandleLookback       int      `json:"candle_lookback"`        // Candles fetched per (symbol, timeframe)
	MaxUnhealthyFailures int      `json:"max_unhealthy_failures"` // Consecutive failures before a symbol is skipped
}

// StructureConfig holds swing and structure detection parameters.
type StructureConfig struct {
	BaseSwingLookback       int     `json:"base_swing_lookback"`
	BOSThresholdPct         float64 `json:"bos_threshold_pct"`
	CHOCHThresholdPct       float64 `json:"choch_threshold_pct"`
	MinStructureDistancePct float64 `json:"min_structure_distance_pct"`
	StructureLockBars       int     `json:"structure_lock_bars"`
	MinMatchingTimeframes   int     `json:"min_matching_timeframes"`
	ProximityNearPct        float64 `json:"proximity_near_pct"`
	ProximityFarPct         float64 `json:"proximity_far_pct"`
}

// FVGConfig holds fair value gap tracking parameters.
type FVGConfig struct {
	MinSizePct float64 `json:"min_size_pct"`
	PruneBars  int     `json:"prune_bars"`
	MinQuality float64 `json:"min_quality"`
}

// AlertConfig holds alert generation and delivery parameters.
type AlertConfig struct {
	DedupWindowSeconds   int `json:"dedup_window_seconds"`
	SubscriberQueueDepth int `json:"subscriber_queue_depth"`
	HistorySize          int `json:"history_size"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// RedisConfig holds the optional snapshot mirror configuration.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output; console writer otherwise
}

// ValidTimeframes is the fixed set of supported timeframe tokens.
var ValidTimeframes = []string{"5m", "15m", "30m", "1h", "2h", "4h"}

// ConfigError indicates invalid configuration. Fatal at startup (exit 64).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.ScanConfig.Symbols) == 0 {
		cfg.ScanConfig.Symbols = []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "RELIANCE", "HDFCBANK", "TCS", "INFY", "SBIN"}
	}
	if len(cfg.ScanConfig.Timeframes) == 0 {
		cfg.ScanConfig.Timeframes = append([]string(nil), ValidTimeframes...)
	}
	if cfg.ScanConfig.ScanIntervalSeconds == 0 {
		cfg.ScanConfig.ScanIntervalSeconds = 120
	}
	if cfg.ScanConfig.MaxConcurrentSymbols == 0 {
		cfg.ScanConfig.MaxConcurrentSymbols = 8
	}
	if cfg.ScanConfig.CandleLookback == 0 {
		cfg.ScanConfig.CandleLookback = 200
	}
	if cfg.ScanConfig.MaxUnhealthyFailures == 0 {
		cfg.ScanConfig.MaxUnhealthyFailures = 3
	}

	if cfg.StructureConfig.BaseSwingLookback == 0 {
		cfg.StructureConfig.BaseSwingLookback = 20
	}
	if cfg.StructureConfig.BOSThresholdPct == 0 {
		cfg.StructureConfig.BOSThresholdPct = 0.3
	}
	if cfg.StructureConfig.CHOCHThresholdPct == 0 {
		cfg.StructureConfig.CHOCHThresholdPct = 0.5
	}
	if cfg.StructureConfig.MinStructureDistancePct == 0 {
		cfg.StructureConfig.MinStructureDistancePct = 1.0
	}
	if cfg.StructureConfig.StructureLockBars == 0 {
		cfg.StructureConfig.StructureLockBars = 5
	}
	if cfg.StructureConfig.MinMatchingTimeframes == 0 {
		cfg.StructureConfig.MinMatchingTimeframes = 2
	}
	if cfg.StructureConfig.ProximityNearPct == 0 {
		cfg.StructureConfig.ProximityNearPct = 2.0
	}
	if cfg.StructureConfig.ProximityFarPct == 0 {
		cfg.StructureConfig.ProximityFarPct = 3.0
	}

	if cfg.FVGConfig.MinSizePct == 0 {
		cfg.FVGConfig.MinSizePct = 0.2
	}
	if cfg.FVGConfig.PruneBars == 0 {
		cfg.FVGConfig.PruneBars = 50
	}
	if cfg.FVGConfig.MinQuality == 0 {
		cfg.FVGConfig.MinQuality = 20
	}

	if cfg.AlertConfig.DedupWindowSeconds == 0 {
		cfg.AlertConfig.DedupWindowSeconds = 60
	}
	if cfg.AlertConfig.SubscriberQueueDepth == 0 {
		cfg.AlertConfig.SubscriberQueueDepth = 64
	}
	if cfg.AlertConfig.HistorySize == 0 {
		cfg.AlertConfig.HistorySize = 100
	}

	if cfg.ProviderConfig.FetchTimeout == 0 {
		cfg.ProviderConfig.FetchTimeout = 5
	}
	if cfg.ProviderConfig.MaxRetries == 0 {
		cfg.ProviderConfig.MaxRetries = 3
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.ProviderConfig.BaseURL = getEnvOrDefault("PROVIDER_BASE_URL", cfg.ProviderConfig.BaseURL)
	cfg.ProviderConfig.APIKey = getEnvOrDefault("PROVIDER_API_KEY", cfg.ProviderConfig.APIKey)
	if v := os.Getenv("MOCK_MODE"); v != "" {
		cfg.ProviderConfig.MockMode = v == "true"
	}
	cfg.ProviderConfig.MockSeed = getEnvInt64OrDefault("MOCK_SEED", cfg.ProviderConfig.MockSeed)

	if v := os.Getenv("SCAN_SYMBOLS"); v != "" {
		cfg.ScanConfig.Symbols = splitAndTrim(v)
	}
	if v := os.Getenv("SCAN_TIMEFRAMES"); v != "" {
		cfg.ScanConfig.Timeframes = splitAndTrim(v)
	}
	cfg.ScanConfig.ScanIntervalSeconds = getEnvIntOrDefault("SCAN_INTERVAL_SECONDS", cfg.ScanConfig.ScanIntervalSeconds)
	cfg.ScanConfig.MaxConcurrentSymbols = getEnvIntOrDefault("MAX_CONCURRENT_SYMBOLS", cfg.ScanConfig.MaxConcurrentSymbols)

	cfg.StructureConfig.BOSThresholdPct = getEnvFloatOrDefault("BOS_THRESHOLD_PCT", cfg.StructureConfig.BOSThresholdPct)
	cfg.StructureConfig.CHOCHThresholdPct = getEnvFloatOrDefault("CHOCH_THRESHOLD_PCT", cfg.StructureConfig.CHOCHThresholdPct)
	cfg.StructureConfig.MinStructureDistancePct = getEnvFloatOrDefault("MIN_STRUCTURE_DISTANCE_PCT", cfg.StructureConfig.MinStructureDistancePct)
	cfg.StructureConfig.StructureLockBars = getEnvIntOrDefault("STRUCTURE_LOCK_BARS", cfg.StructureConfig.StructureLockBars)
	cfg.StructureConfig.MinMatchingTimeframes = getEnvIntOrDefault("MIN_MATCHING_TIMEFRAMES", cfg.StructureConfig.MinMatchingTimeframes)
	cfg.StructureConfig.ProximityNearPct = getEnvFloatOrDefault("PROXIMITY_NEAR_PCT", cfg.StructureConfig.ProximityNearPct)
	cfg.StructureConfig.ProximityFarPct = getEnvFloatOrDefault("PROXIMITY_FAR_PCT", cfg.StructureConfig.ProximityFarPct)

	cfg.FVGConfig.MinSizePct = getEnvFloatOrDefault("MIN_FVG_SIZE_PCT", cfg.FVGConfig.MinSizePct)
	cfg.FVGConfig.PruneBars = getEnvIntOrDefault("FVG_PRUNE_BARS", cfg.FVGConfig.PruneBars)

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultStr(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultStr(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "info"))
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LoggingConfig.JSONFormat = v == "true"
	}
}

// Validate checks numeric ranges and timeframe tokens. Returns *ConfigError.
func (c *Config) Validate() error {
	if c.ScanConfig.ScanIntervalSeconds < 10 {
		return &ConfigError{Field: "scan.scan_interval_seconds", Reason: "must be at least 10"}
	}
	if c.ScanConfig.MaxConcurrentSymbols < 1 {
		return &ConfigError{Field: "scan.max_concurrent_symbols", Reason: "must be at least 1"}
	}
	if len(c.ScanConfig.Symbols) == 0 {
		return &ConfigError{Field: "scan.symbols", Reason: "at least one symbol required"}
	}
	for _, tf := range c.ScanConfig.Timeframes {
		if !isValidTimeframe(tf) {
			return &ConfigError{Field: "scan.timeframes", Reason: fmt.Sprintf("unknown timeframe token %q", tf)}
		}
	}
	if c.StructureConfig.BOSThresholdPct <= 0 || c.StructureConfig.BOSThresholdPct > 10 {
		return &ConfigError{Field: "structure.bos_threshold_pct", Reason: "must be in (0, 10]"}
	}
	if c.StructureConfig.CHOCHThresholdPct <= 0 || c.StructureConfig.CHOCHThresholdPct > 10 {
		return &ConfigError{Field: "structure.choch_threshold_pct", Reason: "must be in (0, 10]"}
	}
	if c.StructureConfig.MinStructureDistancePct < 0 {
		return &ConfigError{Field: "structure.min_structure_distance_pct", Reason: "must be non-negative"}
	}
	if c.StructureConfig.StructureLockBars < 0 {
		return &ConfigError{Field: "structure.structure_lock_bars", Reason: "must be non-negative"}
	}
	if c.StructureConfig.MinMatchingTimeframes < 1 || c.StructureConfig.MinMatchingTimeframes > len(c.ScanConfig.Timeframes) {
		return &ConfigError{Field: "structure.min_matching_timeframes", Reason: "must be between 1 and the number of timeframes"}
	}
	if c.StructureConfig.ProximityNearPct > c.StructureConfig.ProximityFarPct {
		return &ConfigError{Field: "structure.proximity_near_pct", Reason: "must not exceed proximity_far_pct"}
	}
	if c.FVGConfig.MinSizePct < 0 {
		return &ConfigError{Field: "fvg.min_size_pct", Reason: "must be non-negative"}
	}
	if c.FVGConfig.PruneBars < 1 {
		return &ConfigError{Field: "fvg.prune_bars", Reason: "must be at least 1"}
	}
	if c.ServerConfig.Port < 1 || c.ServerConfig.Port > 65535 {
		return &ConfigError{Field: "server.port", Reason: "must be a valid port"}
	}
	return nil
}

// ScanInterval returns the scan period as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanConfig.ScanIntervalSeconds) * time.Second
}

// FetchTimeout returns the per-fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.ProviderConfig.FetchTimeout) * time.Second
}

func isValidTimeframe(tf string) bool {
	for _, v := range ValidTimeframes {
		if v == tf {
			return true
		}
	}
	return false
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func defaultStr(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func defaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

// GenerateSampleConfig writes a commented starting configuration.
func GenerateSampleConfig(filename string) error {
	config := Config{
		ProviderConfig: ProviderConfig{
			BaseURL:      "https://api.broker.example",
			MockMode:     true,
			FetchTimeout: 5,
			MaxRetries:   3,
		},
		ScanConfig: ScanConfig{
			Symbols:              []string{"NIFTY", "BANKNIFTY", "RELIANCE"},
			Timeframes:           ValidTimeframes,
			ScanIntervalSeconds:  120,
			MaxConcurrentSymbols: 8,
			CandleLookback:       200,
			MaxUnhealthyFailures: 3,
		},
		StructureConfig: StructureConfig{
			BaseSwingLookback:       20,
			BOSThresholdPct:         0.3,
			CHOCHThresholdPct:       0.5,
			MinStructureDistancePct: 1.0,
			StructureLockBars:       5,
			MinMatchingTimeframes:   2,
			ProximityNearPct:        2.0,
			ProximityFarPct:         3.0,
		},
		FVGConfig: FVGConfig{
			MinSizePct: 0.2,
			PruneBars:  50,
			MinQuality: 20,
		},
		AlertConfig: AlertConfig{
			DedupWindowSeconds:   60,
			SubscriberQueueDepth: 64,
			HistorySize:          100,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
