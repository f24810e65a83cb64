// Package aggregator runs the per-timeframe analyzer across the configured
// timeframe set and assembles cross-timeframe instrument signals.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"smc-structure-engine/internal/analysis"
	"smc-structure-engine/internal/market"
)

// farProximitySentinel stands in for proximity when a timeframe has no
// structure event; entries carrying it are excluded from averages.
const farProximitySentinel = 999.0

// validSignalMinConfidence gates a timeframe entry into the alignment count.
const validSignalMinConfidence = 50.0

// TimeframeEntry is one timeframe's contribution to an instrument signal.
type TimeframeEntry struct {
	Timeframe      market.Timeframe           `json:"timeframe"`
	Snapshot       analysis.StructureSnapshot `json:"snapshot"`
	HasValidSignal bool                       `json:"has_valid_signal"`
	ProximityPct   float64                    `json:"proximity_pct"`
}

// InstrumentSignal is the published cross-timeframe view of one instrument.
// It is a value: the store copies it on write and read.
type InstrumentSignal struct {
	Symbol             string             `json:"symbol"`
	CurrentPrice       float64            `json:"current_price"`
	ChangePercent      float64            `json:"change_percent"`
	TimeframeEntries   []TimeframeEntry   `json:"timeframe_entries"`
	MatchingTimeframes int                `json:"matching_timeframes"`
	OverallStructure   analysis.Structure `json:"overall_structure"`
	LatestEventDescr   string             `json:"latest_event_descr"`
	TotalFVGs          int                `json:"total_fvgs"`
	AvgProximityPct    float64            `json:"avg_proximity_pct"`
	MeanConfidence     float64            `json:"mean_confidence"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Stale              bool               `json:"stale"`
}

// Config holds aggregation parameters.
type Config struct {
	Timeframes     []market.Timeframe
	MinMatches     int // minimum aligned timeframes for publishable output (default 2)
	CandleLookback int // candles fetched per timeframe
}

// Aggregator fetches candles for each timeframe, analyzes them and builds
// the instrument signal.
type Aggregator struct {
	provider market.Provider
	analyzer *analysis.Analyzer
	cfg      Config
	logger   zerolog.Logger
}

// New creates an aggregator.
func New(provider market.Provider, analyzer *analysis.Analyzer, cfg Config, logger zerolog.Logger) *Aggregator {
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = market.AllTimeframes
	}
	if cfg.MinMatches == 0 {
		cfg.MinMatches = 2
	}
	if cfg.CandleLookback == 0 {
		cfg.CandleLookback = 200
	}
	return &Aggregator{provider: provider, analyzer: analyzer, cfg: cfg, logger: logger}
}

// AnalyzeSymbol runs every timeframe for one instrument. It returns nil when
// fewer than MinMatches timeframes carry a valid signal; such instruments
// are excluded from publishable output.
func (ag *Aggregator) AnalyzeSymbol(ctx context.Context, symbol string) (*InstrumentSignal, error) {
	quote, err := ag.provider.LatestQuote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote fetch for %s: %w", symbol, err)
	}

	entries := make([]TimeframeEntry, 0, len(ag.cfg.Timeframes))
	totalFVGs := 0

	for _, tf := range ag.cfg.Timeframes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candles, err := ag.provider.GetCandles(ctx, symbol, tf, ag.cfg.CandleLookback)
		if err != nil {
			return nil, fmt.Errorf("candle fetch for %s %s: %w", symbol, tf, err)
		}

		snapshot, err := ag.analyzer.Analyze(candles, tf)
		if err != nil {
			return nil, err
		}

		entry := buildEntry(tf, snapshot, quote.Price)
		entries = append(entries, entry)
		totalFVGs += len(snapshot.ActiveFVGs)
	}

	return ag.assemble(symbol, quote, entries, totalFVGs), nil
}

// assemble builds the cross-timeframe signal from per-timeframe entries.
// It returns nil when fewer than MinMatches entries carry a valid signal.
func (ag *Aggregator) assemble(symbol string, quote market.Quote, entries []TimeframeEntry, totalFVGs int) *InstrumentSignal {
	matching := 0
	for _, e := range entries {
		if e.HasValidSignal {
			matching++
		}
	}
	if matching < ag.cfg.MinMatches {
		ag.logger.Debug().Str("symbol", symbol).Int("matching", matching).
			Msg("below alignment threshold, not publishing")
		return nil
	}

	// Rank by confidence; the top valid entry decides the overall structure.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Snapshot.Confidence > entries[j].Snapshot.Confidence
	})

	signal := &InstrumentSignal{
		Symbol:             symbol,
		CurrentPrice:       quote.Price,
		ChangePercent:      quote.ChangePercent,
		TimeframeEntries:   entries,
		MatchingTimeframes: matching,
		TotalFVGs:          totalFVGs,
		UpdatedAt:          time.Now(),
	}

	proxSum, confSum := 0.0, 0.0
	proxCount := 0
	for _, e := range entries {
		if !e.HasValidSignal {
			continue
		}
		if signal.OverallStructure == "" {
			signal.OverallStructure = e.Snapshot.CurrentStructure
			signal.LatestEventDescr = describeEvent(e)
		}
		confSum += e.Snapshot.Confidence
		if e.ProximityPct != farProximitySentinel {
			proxSum += e.ProximityPct
			proxCount++
		}
	}
	signal.MeanConfidence = confSum / float64(matching)
	if proxCount > 0 {
		signal.AvgProximityPct = proxSum / float64(proxCount)
	} else {
		signal.AvgProximityPct = farProximitySentinel
	}

	return signal
}

func buildEntry(tf market.Timeframe, snapshot analysis.StructureSnapshot, currentPrice float64) TimeframeEntry {
	proximity := farProximitySentinel
	if snapshot.LastEvent != nil && currentPrice != 0 {
		diff := currentPrice - snapshot.LastEvent.BreakPrice
		if diff < 0 {
			diff = -diff
		}
		proximity = diff / currentPrice * 100
	}

	valid := snapshot.CurrentStructure != analysis.StructureNeutral &&
		snapshot.LastEvent != nil &&
		snapshot.Confidence > validSignalMinConfidence

	return TimeframeEntry{
		Timeframe:      tf,
		Snapshot:       snapshot,
		HasValidSignal: valid,
		ProximityPct:   proximity,
	}
}

func describeEvent(e TimeframeEntry) string {
	ev := e.Snapshot.LastEvent
	if ev == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s %s @ %.2f (broke %.2f)",
		e.Timeframe, ev.Kind, ev.Direction, ev.BreakPrice, ev.BrokenLevel)
}

// SortSignals orders a batch for publication: alignment first, then mean
// confidence.
func SortSignals(signals []InstrumentSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].MatchingTimeframes != signals[j].MatchingTimeframes {
			return signals[i].MatchingTimeframes > signals[j].MatchingTimeframes
		}
		return signals[i].MeanConfidence > signals[j].MeanConfidence
	})
}

// TopEntry returns the highest-confidence valid entry, or nil.
func (s *InstrumentSignal) TopEntry() *TimeframeEntry {
	for i := range s.TimeframeEntries {
		if s.TimeframeEntries[i].HasValidSignal {
			return &s.TimeframeEntries[i]
		}
	}
	return nil
}
