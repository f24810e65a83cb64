package analysis

import (
	"math"

	"github.com/rs/zerolog"

	"smc-structure-engine/internal/market"
)

// StructureConfig holds the state machine's noise and hysteresis parameters.
type StructureConfig struct {
	BOSThresholdPct         float64 // close must clear the swing by this percent (default 0.3)
	CHOCHThresholdPct       float64 // regime-change breaks need more room (default 0.5)
	MinStructureDistancePct float64 // minimum separation from the prior opposite break (default 1.0)
	StructureLockBars       int     // bars during which no further event may fire (default 5)
}

// DefaultStructureConfig returns the standard parameter set.
func DefaultStructureConfig() StructureConfig {
	return StructureConfig{
		BOSThresholdPct:         0.3,
		CHOCHThresholdPct:       0.5,
		MinStructureDistancePct: 1.0,
		StructureLockBars:       5,
	}
}

// structureState is the hysteresis carried across candles: the lock horizon
// and the most recent break in each direction. Plain values, no globals.
type structureState struct {
	lockUntil  int
	bullishBOS *StructureEvent
	bearishBOS *StructureEvent
}

// StructureMachine interprets closes against swing levels and emits BOS and
// CHOCH events. Each Run is a pure pass over the window; state lives only
// for the duration of the call.
type StructureMachine struct {
	cfg    StructureConfig
	logger zerolog.Logger
}

// NewStructureMachine creates a state machine with the given parameters.
func NewStructureMachine(cfg StructureConfig, logger zerolog.Logger) *StructureMachine {
	if cfg.BOSThresholdPct == 0 {
		cfg = DefaultStructureConfig()
	}
	return &StructureMachine{cfg: cfg, logger: logger}
}

// Run walks the candle window against the detected swings and returns all
// structure events in chronological order. Candles with non-monotonic
// timestamps are dropped with a warning; an inverted OHLC aborts the run.
func (sm *StructureMachine) Run(candles []market.Candle, swings []SwingPoint, minIndex int) ([]StructureEvent, error) {
	var events []StructureEvent
	st := structureState{}

	start := minIndex
	if start < 1 {
		start = 1
	}
	if start > len(candles) {
		return events, nil
	}

	// Compare against the last accepted timestamp, not the raw predecessor:
	// a dropped candle must not distort the ordering check for its successor.
	lastAccepted := candles[start-1].Timestamp

	for i := start; i < len(candles); i++ {
		c := candles[i]

		if !c.Validate() {
			return events, &market.InvalidCandleError{Index: i, Candle: c}
		}
		if !c.Timestamp.After(lastAccepted) {
			sm.logger.Warn().Int("index", i).Time("timestamp", c.Timestamp).
				Msg("dropping candle with non-monotonic timestamp")
			continue
		}
		lastAccepted = c.Timestamp

		if i < st.lockUntil {
			continue
		}

		lastHigh := latestSwingBefore(swings, i, SwingHigh)
		lastLow := latestSwingBefore(swings, i, SwingLow)

		// CHOCH takes precedence over BOS when both would fire: a regime
		// change outranks a continuation break.
		if ev, ok := sm.tryCHOCH(c, i, lastHigh, lastLow, &st); ok {
			events = append(events, ev)
			continue
		}
		if ev, ok := sm.tryBOS(c, i, lastHigh, lastLow, &st); ok {
			events = append(events, ev)
		}
	}

	return events, nil
}

func (sm *StructureMachine) tryBOS(c market.Candle, i int, lastHigh, lastLow *SwingPoint, st *structureState) (StructureEvent, bool) {
	threshold := sm.cfg.BOSThresholdPct / 100

	if lastHigh != nil && c.Close > lastHigh.Price*(1+threshold) {
		if sm.clearOfOpposite(c.Close, lastHigh.Price, st.bearishBOS) {
			ev := sm.emit(BOS, Bullish, c, i, lastHigh.Price, st)
			st.bullishBOS = &ev
			return ev, true
		}
	}

	if lastLow != nil && c.Close < lastLow.Price*(1-threshold) {
		if sm.clearOfOpposite(c.Close, lastLow.Price, st.bullishBOS) {
			ev := sm.emit(BOS, Bearish, c, i, lastLow.Price, st)
			st.bearishBOS = &ev
			return ev, true
		}
	}

	return StructureEvent{}, false
}

func (sm *StructureMachine) tryCHOCH(c market.Candle, i int, lastHigh, lastLow *SwingPoint, st *structureState) (StructureEvent, bool) {
	threshold := sm.cfg.CHOCHThresholdPct / 100

	// Bullish CHOCH: an active bearish break is reversed through a swing high.
	if st.bearishBOS != nil && lastHigh != nil && c.Close > lastHigh.Price*(1+threshold) {
		if sm.clearOfOpposite(c.Close, lastHigh.Price, st.bearishBOS) {
			ev := sm.emit(CHOCH, Bullish, c, i, lastHigh.Price, st)
			st.bearishBOS = nil
			st.bullishBOS = nil
			return ev, true
		}
	}

	// Bearish CHOCH: an active bullish break is reversed through a swing low.
	if st.bullishBOS != nil && lastLow != nil && c.Close < lastLow.Price*(1-threshold) {
		if sm.clearOfOpposite(c.Close, lastLow.Price, st.bullishBOS) {
			ev := sm.emit(CHOCH, Bearish, c, i, lastLow.Price, st)
			st.bullishBOS = nil
			st.bearishBOS = nil
			return ev, true
		}
	}

	return StructureEvent{}, false
}

// clearOfOpposite enforces the minimum-distance hysteresis: a new break must
// land far enough from the prior opposite-direction break to count.
func (sm *StructureMachine) clearOfOpposite(breakPrice, level float64, opposite *StructureEvent) bool {
	if opposite == nil {
		return true
	}
	minDistance := level * sm.cfg.MinStructureDistancePct / 100
	return math.Abs(breakPrice-opposite.BreakPrice) > minDistance
}

func (sm *StructureMachine) emit(kind EventKind, dir Direction, c market.Candle, i int, level float64, st *structureState) StructureEvent {
	st.lockUntil = i + sm.cfg.StructureLockBars

	sig := Minor
	if level != 0 && math.Abs(c.Close-level)/level*100 >= majorBreakPct {
		sig = Major
	}

	return StructureEvent{
		Kind:         kind,
		Direction:    dir,
		BreakPrice:   c.Close,
		BrokenLevel:  level,
		Index:        i,
		Timestamp:    c.Timestamp,
		Significance: sig,
	}
}

// latestSwingBefore returns the most recent swing of the given kind with
// index strictly below i, or nil.
func latestSwingBefore(swings []SwingPoint, i int, kind SwingKind) *SwingPoint {
	for j := len(swings) - 1; j >= 0; j-- {
		if swings[j].Kind == kind && swings[j].Index < i {
			return &swings[j]
		}
	}
	return nil
}

// CurrentStructure derives the running interpretation from the event history.
func CurrentStructure(events []StructureEvent) Structure {
	if len(events) == 0 {
		return StructureNeutral
	}
	last := events[len(events)-1]
	switch {
	case last.Kind == CHOCH && last.Direction == Bullish:
		return StructureBullishCHOCH
	case last.Kind == CHOCH && last.Direction == Bearish:
		return StructureBearishCHOCH
	case last.Direction == Bullish:
		return StructureBullish
	default:
		return StructureBearish
	}
}

// Confidence scores the event history 0-100: a base of 50, plus weight for
// recent activity, major breaks, and directional agreement.
func Confidence(events []StructureEvent) float64 {
	if len(events) == 0 {
		return 0
	}

	recent := events
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	majorCount := 0
	sameDirection := 0
	lastDir := recent[len(recent)-1].Direction
	for _, ev := range recent {
		if ev.Significance == Major {
			majorCount++
		}
		if ev.Direction == lastDir {
			sameDirection++
		}
	}

	score := 50 +
		10*float64(len(recent)) +
		15*float64(majorCount) +
		20*(float64(sameDirection)/float64(len(recent)))
	return clamp(score, 0, 100)
}

// TrendStrength measures the last 20 candles 0-100: the share of bullish
// closes plus a body-size term relative to the last close.
func TrendStrength(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}

	window := candles
	if len(window) > 20 {
		window = window[len(window)-20:]
	}

	bullish := 0
	bodySum := 0.0
	for _, c := range window {
		if c.Bullish() {
			bullish++
		}
		bodySum += c.Body()
	}

	lastClose := candles[len(candles)-1].Close
	if lastClose == 0 {
		return 0
	}

	bullishPct := float64(bullish) / float64(len(window)) * 100
	avgBodyPct := bodySum / float64(len(window)) / lastClose * 100

	return clamp(bullishPct+5*avgBodyPct, 0, 100)
}
