package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.ServerConfig.Port = 8080
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if len(cfg.ScanConfig.Symbols) == 0 {
		t.Error("default symbol list must not be empty")
	}
	if cfg.ScanConfig.ScanIntervalSeconds != 120 {
		t.Errorf("expected 120s scan interval, got %d", cfg.ScanConfig.ScanIntervalSeconds)
	}
	if cfg.ScanConfig.MaxConcurrentSymbols != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.ScanConfig.MaxConcurrentSymbols)
	}
	if cfg.StructureConfig.BOSThresholdPct != 0.3 || cfg.StructureConfig.CHOCHThresholdPct != 0.5 {
		t.Errorf("unexpected structure thresholds: %+v", cfg.StructureConfig)
	}
	if cfg.FVGConfig.MinSizePct != 0.2 || cfg.FVGConfig.PruneBars != 50 {
		t.Errorf("unexpected fvg defaults: %+v", cfg.FVGConfig)
	}
	if len(cfg.ScanConfig.Timeframes) != len(ValidTimeframes) {
		t.Errorf("all timeframes must be enabled by default, got %v", cfg.ScanConfig.Timeframes)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.ScanConfig.ScanIntervalSeconds = 60
	cfg.StructureConfig.BOSThresholdPct = 0.8
	applyDefaults(cfg)

	if cfg.ScanConfig.ScanIntervalSeconds != 60 {
		t.Errorf("explicit interval overwritten: %d", cfg.ScanConfig.ScanIntervalSeconds)
	}
	if cfg.StructureConfig.BOSThresholdPct != 0.8 {
		t.Errorf("explicit threshold overwritten: %v", cfg.StructureConfig.BOSThresholdPct)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "short interval",
			mutate: func(c *Config) { c.ScanConfig.ScanIntervalSeconds = 5 },
			field:  "scan.scan_interval_seconds",
		},
		{
			name:   "no workers",
			mutate: func(c *Config) { c.ScanConfig.MaxConcurrentSymbols = 0 },
			field:  "scan.max_concurrent_symbols",
		},
		{
			name:   "no symbols",
			mutate: func(c *Config) { c.ScanConfig.Symbols = nil },
			field:  "scan.symbols",
		},
		{
			name:   "unknown timeframe",
			mutate: func(c *Config) { c.ScanConfig.Timeframes = []string{"5m", "7m"} },
			field:  "scan.timeframes",
		},
		{
			name:   "bos threshold out of range",
			mutate: func(c *Config) { c.StructureConfig.BOSThresholdPct = 12 },
			field:  "structure.bos_threshold_pct",
		},
		{
			name:   "negative structure distance",
			mutate: func(c *Config) { c.StructureConfig.MinStructureDistancePct = -1 },
			field:  "structure.min_structure_distance_pct",
		},
		{
			name: "min matches exceeds timeframes",
			mutate: func(c *Config) {
				c.ScanConfig.Timeframes = []string{"5m", "15m"}
				c.StructureConfig.MinMatchingTimeframes = 3
			},
			field: "structure.min_matching_timeframes",
		},
		{
			name: "near band beyond far band",
			mutate: func(c *Config) {
				c.StructureConfig.ProximityNearPct = 4.0
				c.StructureConfig.ProximityFarPct = 3.0
			},
			field: "structure.proximity_near_pct",
		},
		{
			name:   "prune bars too small",
			mutate: func(c *Config) { c.FVGConfig.PruneBars = 0 },
			field:  "fvg.prune_bars",
		},
		{
			name:   "bad port",
			mutate: func(c *Config) { c.ServerConfig.Port = 70000 },
			field:  "server.port",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if cfgErr.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, cfgErr.Field)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCAN_SYMBOLS", "NIFTY, TCS ,")
	t.Setenv("SCAN_INTERVAL_SECONDS", "45")
	t.Setenv("BOS_THRESHOLD_PCT", "0.7")
	t.Setenv("MOCK_MODE", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if len(cfg.ScanConfig.Symbols) != 2 || cfg.ScanConfig.Symbols[1] != "TCS" {
		t.Errorf("symbol list must be split and trimmed, got %v", cfg.ScanConfig.Symbols)
	}
	if cfg.ScanConfig.ScanIntervalSeconds != 45 {
		t.Errorf("expected interval 45, got %d", cfg.ScanConfig.ScanIntervalSeconds)
	}
	if cfg.StructureConfig.BOSThresholdPct != 0.7 {
		t.Errorf("expected threshold 0.7, got %v", cfg.StructureConfig.BOSThresholdPct)
	}
	if !cfg.ProviderConfig.MockMode {
		t.Error("MOCK_MODE=true must enable the mock provider")
	}
	if cfg.LoggingConfig.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.LoggingConfig.Level)
	}
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("SCAN_INTERVAL_SECONDS", "not-a-number")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.ScanConfig.ScanIntervalSeconds != 120 {
		t.Errorf("unparseable override must keep the default, got %d", cfg.ScanConfig.ScanIntervalSeconds)
	}
}

func TestGenerateSampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("generated file must parse: %v", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		t.Errorf("generated config must validate: %v", err)
	}
	if !cfg.ProviderConfig.MockMode {
		t.Error("sample config should start in mock mode")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := loadFromFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file must report an error")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()
	if cfg.ScanInterval() != 120*time.Second {
		t.Errorf("unexpected scan interval: %v", cfg.ScanInterval())
	}
	if cfg.FetchTimeout() != 5*time.Second {
		t.Errorf("unexpected fetch timeout: %v", cfg.FetchTimeout())
	}
}
