package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smc-structure-engine/internal/aggregator"
	"smc-structure-engine/internal/analysis"
)

type dedupKey struct {
	symbol string
	typ    Type
}

// Generator diffs consecutive signals per symbol and emits alerts on the
// transitions that matter. A (symbol, type) pair fires at most once per
// dedup window.
type Generator struct {
	bus     *Bus
	window  time.Duration
	nearPct float64 // proximity at or inside which price sits in the entry zone
	farPct  float64 // the previous reading must have been beyond this to fire
	logger  zerolog.Logger

	mu       sync.Mutex
	lastSent map[dedupKey]time.Time
}

// NewGenerator creates a generator publishing to bus. nearPct and farPct
// bound the entry-zone hysteresis (defaults 2 and 3).
func NewGenerator(bus *Bus, dedupWindow time.Duration, nearPct, farPct float64, logger zerolog.Logger) *Generator {
	if nearPct == 0 {
		nearPct = 2.0
	}
	if farPct == 0 {
		farPct = 3.0
	}
	return &Generator{
		bus:      bus,
		window:   dedupWindow,
		nearPct:  nearPct,
		farPct:   farPct,
		logger:   logger,
		lastSent: make(map[dedupKey]time.Time),
	}
}

// Observe compares the previous and current signal for one symbol and
// publishes whatever alerts the transition warrants. prev is nil the first
// time a symbol produces a signal.
func (g *Generator) Observe(prev *aggregator.InstrumentSignal, curr *aggregator.InstrumentSignal) {
	if curr == nil {
		return
	}

	for _, alert := range g.diff(prev, curr) {
		if !g.allow(alert.Symbol, alert.Type) {
			g.logger.Debug().Str("symbol", alert.Symbol).Str("type", string(alert.Type)).
				Msg("alert suppressed by dedup window")
			continue
		}
		g.bus.Publish(alert)
	}
}

func (g *Generator) diff(prev, curr *aggregator.InstrumentSignal) []Alert {
	var out []Alert

	if a, ok := g.checkBreak(prev, curr); ok {
		out = append(out, a)
	}
	if a, ok := g.checkTrendChange(prev, curr); ok {
		out = append(out, a)
	}
	if prev != nil {
		if a, ok := g.checkEntry(prev, curr); ok {
			out = append(out, a)
		}
		if a, ok := g.checkMitigation(prev, curr); ok {
			out = append(out, a)
		}
	}

	return out
}

// checkBreak fires when the leading timeframe's break advanced and flipped
// direction, or when a fresh break appears on first sight of the symbol.
func (g *Generator) checkBreak(prev, curr *aggregator.InstrumentSignal) (Alert, bool) {
	top := curr.TopEntry()
	if top == nil || top.Snapshot.LastEvent == nil {
		return Alert{}, false
	}
	ev := top.Snapshot.LastEvent

	if prev != nil {
		prevTop := prev.TopEntry()
		if prevTop == nil || prevTop.Snapshot.LastEvent == nil {
			return Alert{}, false
		}
		prevEv := prevTop.Snapshot.LastEvent
		advanced := ev.Timestamp.After(prevEv.Timestamp)
		flipped := ev.Direction != prevEv.Direction
		if !advanced || !flipped {
			return Alert{}, false
		}
	} else if ev.Kind != analysis.BOS {
		return Alert{}, false
	}

	msg := fmt.Sprintf("%s: %s %s on %s @ %.2f (broke %.2f)",
		curr.Symbol, ev.Direction, ev.Kind, top.Timeframe, ev.BreakPrice, ev.BrokenLevel)
	return newAlert(curr.Symbol, TypeBOSBreak, PriorityHigh, msg), true
}

// checkTrendChange fires when the overall structure changed and some tracked
// timeframe emitted a fresh character change since the previous snapshot. The
// confirming CHOCH need not come from the leading timeframe; the overall flip
// itself can arrive through a BOS on top while a lower timeframe turns. On
// first sight only an overall CHOCH qualifies.
func (g *Generator) checkTrendChange(prev, curr *aggregator.InstrumentSignal) (Alert, bool) {
	if prev == nil {
		isCHOCH := curr.OverallStructure == analysis.StructureBullishCHOCH ||
			curr.OverallStructure == analysis.StructureBearishCHOCH
		if !isCHOCH {
			return Alert{}, false
		}
	} else {
		if prev.OverallStructure == curr.OverallStructure {
			return Alert{}, false
		}
		if !hasFreshCHOCH(curr, prev.UpdatedAt) {
			return Alert{}, false
		}
	}

	msg := fmt.Sprintf("%s: character change to %s (%d timeframes aligned)",
		curr.Symbol, curr.OverallStructure, curr.MatchingTimeframes)
	return newAlert(curr.Symbol, TypeTrendChange, PriorityMedium, msg), true
}

// hasFreshCHOCH reports whether any timeframe's latest event is a character
// change newer than since.
func hasFreshCHOCH(sig *aggregator.InstrumentSignal, since time.Time) bool {
	for _, e := range sig.TimeframeEntries {
		ev := e.Snapshot.LastEvent
		if ev != nil && ev.Kind == analysis.CHOCH && ev.Timestamp.After(since) {
			return true
		}
	}
	return false
}

// checkEntry fires when price moves from outside the zone to inside it.
func (g *Generator) checkEntry(prev, curr *aggregator.InstrumentSignal) (Alert, bool) {
	if prev.AvgProximityPct <= g.farPct || curr.AvgProximityPct > g.nearPct {
		return Alert{}, false
	}

	msg := fmt.Sprintf("%s: price within %.2f%% of break levels (%s)",
		curr.Symbol, curr.AvgProximityPct, curr.OverallStructure)
	return newAlert(curr.Symbol, TypeBOSEntry, PriorityHigh, msg), true
}

// checkMitigation fires when a previously active gap has been filled.
func (g *Generator) checkMitigation(prev, curr *aggregator.InstrumentSignal) (Alert, bool) {
	currActive := make(map[string]bool)
	for _, e := range curr.TimeframeEntries {
		for _, gap := range e.Snapshot.ActiveFVGs {
			currActive[gap.ID] = true
		}
	}

	for _, e := range prev.TimeframeEntries {
		for _, gap := range e.Snapshot.ActiveFVGs {
			if !currActive[gap.ID] {
				msg := fmt.Sprintf("%s: %s FVG on %s filled (%.2f - %.2f)",
					curr.Symbol, gap.Direction, e.Timeframe, gap.LowerBound, gap.UpperBound)
				return newAlert(curr.Symbol, TypeFVGMitigated, PriorityMedium, msg), true
			}
		}
	}

	return Alert{}, false
}

// allow applies the per-(symbol, type) dedup window.
func (g *Generator) allow(symbol string, typ Type) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := dedupKey{symbol: symbol, typ: typ}
	now := time.Now()
	if last, ok := g.lastSent[key]; ok && now.Sub(last) < g.window {
		return false
	}
	g.lastSent[key] = now
	return true
}
