package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"smc-structure-engine/config"
	"smc-structure-engine/internal/aggregator"
	"smc-structure-engine/internal/alerts"
	"smc-structure-engine/internal/analysis"
	"smc-structure-engine/internal/api"
	"smc-structure-engine/internal/logging"
	"smc-structure-engine/internal/market"
	"smc-structure-engine/internal/scanner"
	"smc-structure-engine/internal/store"
)

// Exit codes: 64 invalid configuration, 69 provider authentication required,
// 70 internal error.
const (
	exitConfig   = 64
	exitAuth     = 69
	exitInternal = 70
)

func main() {
	sampleConfig := flag.String("sample-config", "", "write a sample config to the given path and exit")
	flag.Parse()

	if *sampleConfig != "" {
		if err := config.GenerateSampleConfig(*sampleConfig); err != nil {
			fmt.Fprintf(os.Stderr, "sample config: %v\n", err)
			os.Exit(exitInternal)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(exitConfig)
		}
		os.Exit(exitInternal)
	}

	logger := logging.Setup(cfg.LoggingConfig.Level, cfg.LoggingConfig.JSONFormat)
	logger.Info().
		Int("symbols", len(cfg.ScanConfig.Symbols)).
		Strs("timeframes", cfg.ScanConfig.Timeframes).
		Bool("mock", cfg.ProviderConfig.MockMode).
		Msg("starting structure engine")

	provider := buildProvider(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One upfront quote proves credentials before the scan loop starts.
	if err := probeProvider(ctx, provider, cfg.ScanConfig.Symbols[0], logger); err != nil {
		if errors.Is(err, market.ErrAuthRequired) {
			logger.Error().Err(err).Msg("provider authentication required")
			os.Exit(exitAuth)
		}
		logger.Warn().Err(err).Msg("provider probe failed, continuing with backoff")
	}

	timeframes := make([]market.Timeframe, 0, len(cfg.ScanConfig.Timeframes))
	for _, tf := range cfg.ScanConfig.Timeframes {
		parsed, err := market.ParseTimeframe(tf)
		if err != nil {
			logger.Error().Err(err).Msg("invalid timeframe")
			os.Exit(exitConfig)
		}
		timeframes = append(timeframes, parsed)
	}

	analyzer := analysis.New(analysis.Config{
		BaseSwingLookback: cfg.StructureConfig.BaseSwingLookback,
		Structure: analysis.StructureConfig{
			BOSThresholdPct:         cfg.StructureConfig.BOSThresholdPct,
			CHOCHThresholdPct:       cfg.StructureConfig.CHOCHThresholdPct,
			MinStructureDistancePct: cfg.StructureConfig.MinStructureDistancePct,
			StructureLockBars:       cfg.StructureConfig.StructureLockBars,
		},
		FVG: analysis.FVGConfig{
			MinSizePct: cfg.FVGConfig.MinSizePct,
			PruneBars:  cfg.FVGConfig.PruneBars,
			MinQuality: cfg.FVGConfig.MinQuality,
		},
	}, logging.Component(logger, "analysis"))

	agg := aggregator.New(provider, analyzer, aggregator.Config{
		Timeframes:     timeframes,
		MinMatches:     cfg.StructureConfig.MinMatchingTimeframes,
		CandleLookback: cfg.ScanConfig.CandleLookback,
	}, logging.Component(logger, "aggregator"))

	signals := store.New(3 * cfg.ScanInterval())

	bus := alerts.NewBus(cfg.AlertConfig.SubscriberQueueDepth, cfg.AlertConfig.HistorySize,
		logging.Component(logger, "alerts"))
	generator := alerts.NewGenerator(bus,
		time.Duration(cfg.AlertConfig.DedupWindowSeconds)*time.Second,
		cfg.StructureConfig.ProximityNearPct, cfg.StructureConfig.ProximityFarPct,
		logging.Component(logger, "alerts"))

	var mirror *store.RedisMirror
	if cfg.RedisConfig.Enabled {
		mirror = store.NewRedisMirror(cfg.RedisConfig.Address, cfg.RedisConfig.Password,
			cfg.RedisConfig.DB, cfg.RedisConfig.PoolSize, 3*cfg.ScanInterval(),
			logging.Component(logger, "redis"))
		defer mirror.Close()
	}

	observer := func(prev *aggregator.InstrumentSignal, curr *aggregator.InstrumentSignal) {
		generator.Observe(prev, curr)
		if mirror != nil {
			mirrorCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			mirror.Write(mirrorCtx, curr)
			cancel()
		}
	}

	sc := scanner.New(agg, signals, cfg.ScanConfig, logging.Component(logger, "scanner"), observer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc.Run(ctx)
	}()

	server := api.NewServer(signals, sc, bus, provider, mirror, cfg.ServerConfig,
		logging.Component(logger, "api"))
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server failed")
		stop()
		wg.Wait()
		bus.Close()
		os.Exit(exitInternal)
	}

	wg.Wait()
	bus.Close()
	logger.Info().Msg("shutdown complete")
}

func buildProvider(cfg *config.Config, logger zerolog.Logger) market.Provider {
	if cfg.ProviderConfig.MockMode {
		logger.Info().Int64("seed", cfg.ProviderConfig.MockSeed).Msg("using mock provider")
		return market.NewMockProvider(cfg.ProviderConfig.MockSeed)
	}
	return market.NewBrokerClient(cfg.ProviderConfig.BaseURL, cfg.ProviderConfig.APIKey,
		cfg.FetchTimeout(), cfg.ProviderConfig.MaxRetries)
}

func probeProvider(ctx context.Context, provider market.Provider, symbol string, logger zerolog.Logger) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := provider.LatestQuote(probeCtx, symbol)
	if err == nil {
		logger.Info().Str("symbol", symbol).Msg("provider probe ok")
	}
	return err
}
