package analysis

import (
	"fmt"
	"sort"
	"time"

	"smc-structure-engine/internal/market"
)

// FVGConfig holds gap detection and pruning parameters.
type FVGConfig struct {
	MinSizePct float64 // reject gaps smaller than this percent (default 0.2)
	PruneBars  int     // drop gaps older than this many bars (default 50)
	MinQuality float64 // drop gaps scoring below this (default 20)
}

// DefaultFVGConfig returns the standard parameter set.
func DefaultFVGConfig() FVGConfig {
	return FVGConfig{MinSizePct: 0.2, PruneBars: 50, MinQuality: 20}
}

// structureProximityBars: a gap created within this many bars of a structure
// event counts as near-structure for scoring.
const structureProximityBars = 3

// maxActiveFVGs caps the list returned to consumers.
const maxActiveFVGs = 5

// FVGTracker detects three-candle imbalances, scores them, tracks mitigation
// and prunes stale or low-quality gaps.
type FVGTracker struct {
	cfg FVGConfig
}

// NewFVGTracker creates a tracker with the given parameters.
func NewFVGTracker(cfg FVGConfig) *FVGTracker {
	if cfg.MinSizePct == 0 && cfg.PruneBars == 0 {
		cfg = DefaultFVGConfig()
	}
	return &FVGTracker{cfg: cfg}
}

// Track runs detection, mitigation, scoring and pruning over the window and
// returns the surviving gaps sorted by creation time ascending.
func (ft *FVGTracker) Track(candles []market.Candle, tf market.Timeframe, events []StructureEvent) []FairValueGap {
	gaps := ft.detect(candles, tf)
	ft.markMitigated(gaps, candles)
	ft.score(gaps, candles, events)
	return ft.prune(gaps, candles, tf)
}

// detect finds every three-candle imbalance at least MinSizePct wide.
func (ft *FVGTracker) detect(candles []market.Candle, tf market.Timeframe) []FairValueGap {
	var gaps []FairValueGap

	for i := 2; i < len(candles); i++ {
		first := candles[i-2]
		middle := candles[i-1]
		third := candles[i]

		if middle.Close == 0 {
			continue
		}

		// Bullish: the first candle's wick never reaches the third's.
		if first.High < third.Low {
			sizePct := (third.Low - first.High) / middle.Close * 100
			if sizePct >= ft.cfg.MinSizePct {
				gaps = append(gaps, FairValueGap{
					ID:         fvgID(tf, third.Timestamp),
					Direction:  Bullish,
					UpperBound: third.Low,
					LowerBound: first.High,
					SizePct:    sizePct,
					Index:      i,
					CreatedAt:  third.Timestamp,
				})
			}
		}

		// Bearish: mirrored.
		if first.Low > third.High {
			sizePct := (first.Low - third.High) / middle.Close * 100
			if sizePct >= ft.cfg.MinSizePct {
				gaps = append(gaps, FairValueGap{
					ID:         fvgID(tf, third.Timestamp),
					Direction:  Bearish,
					UpperBound: first.Low,
					LowerBound: third.High,
					SizePct:    sizePct,
					Index:      i,
					CreatedAt:  third.Timestamp,
				})
			}
		}
	}

	return gaps
}

// markMitigated flags each gap the first time a later candle trades through
// it. A mitigated gap never reopens.
func (ft *FVGTracker) markMitigated(gaps []FairValueGap, candles []market.Candle) {
	for g := range gaps {
		gap := &gaps[g]
		for i := gap.Index + 1; i < len(candles); i++ {
			c := candles[i]
			filled := (gap.Direction == Bullish && c.Low <= gap.LowerBound) ||
				(gap.Direction == Bearish && c.High >= gap.UpperBound)
			if filled {
				gap.Mitigated = true
				ts := c.Timestamp
				gap.MitigatedAt = &ts
				break
			}
		}
	}
}

// score assigns the 0-100 quality score: gap size, structure proximity and
// recency relative to the latest candle.
func (ft *FVGTracker) score(gaps []FairValueGap, candles []market.Candle, events []StructureEvent) {
	latestIndex := len(candles) - 1

	for g := range gaps {
		gap := &gaps[g]

		var score float64
		switch {
		case gap.SizePct >= 1.0:
			score += 40
		case gap.SizePct >= 0.7:
			score += 30
		case gap.SizePct >= 0.5:
			score += 20
		case gap.SizePct >= 0.3:
			score += 10
		}

		for _, ev := range events {
			if abs(gap.Index-ev.Index) <= structureProximityBars {
				gap.NearStructure = true
				score += 30
				break
			}
		}

		age := latestIndex - gap.Index
		switch {
		case age <= 5:
			score += 30
		case age <= 10:
			score += 20
		case age <= 20:
			score += 10
		}

		gap.QualityScore = clamp(score, 0, 100)
	}
}

// prune drops gaps past the age horizon or below the quality floor.
func (ft *FVGTracker) prune(gaps []FairValueGap, candles []market.Candle, tf market.Timeframe) []FairValueGap {
	if len(candles) == 0 {
		return nil
	}

	horizon := time.Duration(ft.cfg.PruneBars) * tf.Interval()
	latest := candles[len(candles)-1].Timestamp

	kept := gaps[:0]
	for _, gap := range gaps {
		if latest.Sub(gap.CreatedAt) > horizon {
			continue
		}
		if gap.QualityScore < ft.cfg.MinQuality {
			continue
		}
		kept = append(kept, gap)
	}
	return kept
}

// Active returns the newest unmitigated gaps, at most five, sorted by
// creation time descending.
func Active(gaps []FairValueGap) []FairValueGap {
	active := make([]FairValueGap, 0, len(gaps))
	for _, gap := range gaps {
		if !gap.Mitigated {
			active = append(active, gap)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})

	if len(active) > maxActiveFVGs {
		active = active[:maxActiveFVGs]
	}
	return active
}

// fvgID derives a gap's identity from the timeframe and the closing candle's
// timestamp. Window-relative indexes must not leak in here: the fetch window
// slides every scan, and consumers diff gaps by ID across scans.
func fvgID(tf market.Timeframe, ts time.Time) string {
	return fmt.Sprintf("%s_%d", tf, ts.UnixMilli())
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
