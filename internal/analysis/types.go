package analysis

import (
	"time"

	"smc-structure-engine/internal/market"
)

// Direction is the direction of a structural move.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// EventKind distinguishes a continuation break from a regime change.
type EventKind string

const (
	BOS   EventKind = "BOS"   // Break of Structure: break with the prevailing trend
	CHOCH EventKind = "CHOCH" // Change of Character: break against it
)

// Significance grades a structure event by how far price closed beyond the
// broken level.
type Significance string

const (
	Minor Significance = "minor"
	Major Significance = "major" // break exceeds the broken level by >= 1%
)

// majorBreakPct is the broken-level distance that promotes an event to Major.
const majorBreakPct = 1.0

// SwingKind marks a swing point as a local high or low.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a confirmed local extreme. Immutable once emitted.
type SwingPoint struct {
	Index     int       `json:"index"`
	Price     float64   `json:"price"`
	Kind      SwingKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// StructureEvent is an emitted BOS or CHOCH.
type StructureEvent struct {
	Kind         EventKind    `json:"kind"`
	Direction    Direction    `json:"direction"`
	BreakPrice   float64      `json:"break_price"`
	BrokenLevel  float64      `json:"broken_level"`
	Index        int          `json:"index"` // candle index within the analyzed window
	Timestamp    time.Time    `json:"timestamp"`
	Significance Significance `json:"significance"`
}

// Structure is the running structural interpretation of a timeframe.
type Structure string

const (
	StructureNeutral      Structure = "neutral"
	StructureBullish      Structure = "bullish"
	StructureBearish      Structure = "bearish"
	StructureBullishCHOCH Structure = "bullish_choch"
	StructureBearishCHOCH Structure = "bearish_choch"
)

// Bullish reports whether the structure points up, CHOCH included.
func (s Structure) Bullish() bool {
	return s == StructureBullish || s == StructureBullishCHOCH
}

func (s Structure) Bearish() bool {
	return s == StructureBearish || s == StructureBearishCHOCH
}

// FairValueGap is a three-candle imbalance tracked until mitigation or prune.
type FairValueGap struct {
	ID            string     `json:"id"`
	Direction     Direction  `json:"direction"`
	UpperBound    float64    `json:"upper_bound"`
	LowerBound    float64    `json:"lower_bound"`
	SizePct       float64    `json:"size_pct"`
	Index         int        `json:"index"` // index of the third candle
	CreatedAt     time.Time  `json:"created_at"`
	Mitigated     bool       `json:"mitigated"`
	MitigatedAt   *time.Time `json:"mitigated_at,omitempty"`
	QualityScore  float64    `json:"quality_score"`
	NearStructure bool       `json:"near_structure"`
}

// StructureSnapshot is the per-timeframe analysis result. It is a value:
// consumers receive copies and never share state with the analyzer.
type StructureSnapshot struct {
	Timeframe        market.Timeframe `json:"timeframe"`
	CurrentStructure Structure        `json:"current_structure"`
	LastEvent        *StructureEvent  `json:"last_event,omitempty"`
	ActiveFVGs       []FairValueGap   `json:"active_fvgs"`
	TrendStrength    float64          `json:"trend_strength"` // 0-100
	Confidence       float64          `json:"confidence"`     // 0-100
}

// NeutralSnapshot is the default result for windows too short to analyze.
func NeutralSnapshot(tf market.Timeframe) StructureSnapshot {
	return StructureSnapshot{
		Timeframe:        tf,
		CurrentStructure: StructureNeutral,
		TrendStrength:    0,
		Confidence:       0,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
