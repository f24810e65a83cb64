// Package analysis implements the market-structure core: swing detection,
// the BOS/CHOCH state machine, fair value gap tracking, and the per-timeframe
// analyzer that composes them into a snapshot.
package analysis

import (
	"github.com/rs/zerolog"

	"smc-structure-engine/internal/market"
)

// Config bundles the analyzer's parameters.
type Config struct {
	BaseSwingLookback int
	Structure         StructureConfig
	FVG               FVGConfig
}

// DefaultConfig returns the standard parameter set.
func DefaultConfig() Config {
	return Config{
		BaseSwingLookback: 20,
		Structure:         DefaultStructureConfig(),
		FVG:               DefaultFVGConfig(),
	}
}

// Analyzer runs swing detection, the structure machine and gap tracking over
// one candle window. It owns no state across calls, so a single instance is
// safe for concurrent use.
type Analyzer struct {
	swings    *SwingDetector
	machine   *StructureMachine
	fvgs      *FVGTracker
	minWindow int
}

// New creates an analyzer from the given configuration.
func New(cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.BaseSwingLookback == 0 {
		cfg = DefaultConfig()
	}
	return &Analyzer{
		swings:    NewSwingDetector(cfg.BaseSwingLookback),
		machine:   NewStructureMachine(cfg.Structure, logger),
		fvgs:      NewFVGTracker(cfg.FVG),
		minWindow: cfg.BaseSwingLookback + 3,
	}
}

// Analyze produces the structure snapshot for one timeframe's candle window.
// Windows shorter than baseLookback+3 candles return the neutral default.
func (a *Analyzer) Analyze(candles []market.Candle, tf market.Timeframe) (StructureSnapshot, error) {
	if len(candles) < a.minWindow {
		return NeutralSnapshot(tf), nil
	}

	swings := a.swings.Detect(candles)
	lookback := a.swings.Lookback(candles)

	events, err := a.machine.Run(candles, swings, lookback)
	if err != nil {
		return NeutralSnapshot(tf), err
	}

	gaps := a.fvgs.Track(candles, tf, events)

	snapshot := StructureSnapshot{
		Timeframe:        tf,
		CurrentStructure: CurrentStructure(events),
		ActiveFVGs:       Active(gaps),
		TrendStrength:    TrendStrength(candles),
		Confidence:       Confidence(events),
	}
	if len(events) > 0 {
		last := events[len(events)-1]
		snapshot.LastEvent = &last
	}

	return snapshot, nil
}
