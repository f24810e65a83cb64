package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smc-structure-engine/config"
	"smc-structure-engine/internal/aggregator"
	"smc-structure-engine/internal/analysis"
	"smc-structure-engine/internal/market"
	"smc-structure-engine/internal/store"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	results map[string]*aggregator.InstrumentSignal
	errs    map[string]error
	calls   map[string]int
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		results: make(map[string]*aggregator.InstrumentSignal),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeAnalyzer) AnalyzeSymbol(ctx context.Context, symbol string) (*aggregator.InstrumentSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.results[symbol], nil
}

func (f *fakeAnalyzer) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func testSignal(symbol string) *aggregator.InstrumentSignal {
	return &aggregator.InstrumentSignal{
		Symbol:             symbol,
		OverallStructure:   analysis.StructureBullish,
		MatchingTimeframes: 3,
		MeanConfidence:     75,
		UpdatedAt:          time.Now(),
	}
}

func scanCfg(symbols ...string) config.ScanConfig {
	return config.ScanConfig{
		Symbols:              symbols,
		ScanIntervalSeconds:  120,
		MaxConcurrentSymbols: 2,
		MaxUnhealthyFailures: 3,
	}
}

func TestRunCycleStoresSignals(t *testing.T) {
	fake := newFakeAnalyzer()
	fake.results["NIFTY"] = testSignal("NIFTY")
	fake.results["TCS"] = testSignal("TCS")

	signals := store.New(time.Hour)
	sc := New(fake, signals, scanCfg("NIFTY", "TCS"), zerolog.Nop(), nil)

	sc.runCycle(context.Background())

	if _, ok := signals.Get("NIFTY"); !ok {
		t.Error("NIFTY signal missing from the store")
	}
	if _, ok := signals.Get("TCS"); !ok {
		t.Error("TCS signal missing from the store")
	}
	if sc.LastScanTime().IsZero() {
		t.Error("last scan time must be recorded")
	}
	if sc.NextScanIn() <= 0 {
		t.Error("next scan must be scheduled")
	}
}

func TestRunCycleBelowThresholdKeepsPrevious(t *testing.T) {
	fake := newFakeAnalyzer()
	fake.results["NIFTY"] = testSignal("NIFTY")

	signals := store.New(time.Hour)
	sc := New(fake, signals, scanCfg("NIFTY"), zerolog.Nop(), nil)

	sc.runCycle(context.Background())

	// Next cycle comes back below the alignment threshold.
	fake.mu.Lock()
	fake.results["NIFTY"] = nil
	fake.mu.Unlock()

	sc.runCycle(context.Background())

	if _, ok := signals.Get("NIFTY"); !ok {
		t.Error("previous signal must survive a below-threshold cycle")
	}
}

func TestObserverSeesPreviousSignal(t *testing.T) {
	fake := newFakeAnalyzer()
	fake.results["NIFTY"] = testSignal("NIFTY")

	var mu sync.Mutex
	var prevs []*aggregator.InstrumentSignal

	signals := store.New(time.Hour)
	sc := New(fake, signals, scanCfg("NIFTY"), zerolog.Nop(),
		func(prev, curr *aggregator.InstrumentSignal) {
			mu.Lock()
			prevs = append(prevs, prev)
			mu.Unlock()
		})

	sc.runCycle(context.Background())
	sc.runCycle(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(prevs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(prevs))
	}
	if prevs[0] != nil {
		t.Error("first observation must carry a nil previous signal")
	}
	if prevs[1] == nil {
		t.Error("second observation must carry the stored previous signal")
	}
}

func TestFailedSymbolBacksOff(t *testing.T) {
	fake := newFakeAnalyzer()
	fake.errs["NIFTY"] = &market.TransientError{Err: errors.New("boom")}
	fake.results["TCS"] = testSignal("TCS")

	signals := store.New(time.Hour)
	sc := New(fake, signals, scanCfg("NIFTY", "TCS"), zerolog.Nop(), nil)

	sc.runCycle(context.Background())
	// Backoff starts at several seconds, so an immediate second cycle skips
	// the failed symbol but still scans the healthy one.
	sc.runCycle(context.Background())

	if got := fake.callCount("NIFTY"); got != 1 {
		t.Errorf("failed symbol should be skipped while backing off, got %d calls", got)
	}
	if got := fake.callCount("TCS"); got != 2 {
		t.Errorf("healthy symbol must keep scanning, got %d calls", got)
	}
}

func TestRecoveryClearsBackoff(t *testing.T) {
	fake := newFakeAnalyzer()
	fake.errs["NIFTY"] = &market.TransientError{Err: errors.New("boom")}

	signals := store.New(time.Hour)
	sc := New(fake, signals, scanCfg("NIFTY"), zerolog.Nop(), nil)

	sc.runCycle(context.Background())

	fake.mu.Lock()
	delete(fake.errs, "NIFTY")
	fake.results["NIFTY"] = testSignal("NIFTY")
	fake.mu.Unlock()

	// Expire the backoff window manually.
	sc.mu.Lock()
	sc.health["NIFTY"].retryAt = time.Now().Add(-time.Second)
	sc.mu.Unlock()

	sc.runCycle(context.Background())

	if _, ok := signals.Get("NIFTY"); !ok {
		t.Error("recovered symbol must publish again")
	}
	sc.mu.Lock()
	_, unhealthy := sc.health["NIFTY"]
	sc.mu.Unlock()
	if unhealthy {
		t.Error("success must clear the failure record")
	}
}

func TestAuthFailureMarksStale(t *testing.T) {
	fake := newFakeAnalyzer()
	fake.results["NIFTY"] = testSignal("NIFTY")

	signals := store.New(time.Hour)
	sc := New(fake, signals, scanCfg("NIFTY"), zerolog.Nop(), nil)

	sc.runCycle(context.Background())

	fake.mu.Lock()
	fake.results["NIFTY"] = nil
	fake.errs["NIFTY"] = market.ErrAuthRequired
	fake.mu.Unlock()

	sc.runCycle(context.Background())

	got, ok := signals.Get("NIFTY")
	if !ok {
		t.Fatal("last known signal must remain readable")
	}
	if !got.Stale {
		t.Error("auth failure must mark the last snapshot stale")
	}
}

func TestTriggerRescanCoalesces(t *testing.T) {
	fake := newFakeAnalyzer()
	signals := store.New(time.Hour)
	sc := New(fake, signals, scanCfg("NIFTY"), zerolog.Nop(), nil)

	sc.TriggerRescan()
	sc.TriggerRescan() // second request coalesces, must not block

	if len(sc.rescan) != 1 {
		t.Errorf("expected exactly one pending rescan, got %d", len(sc.rescan))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fake := newFakeAnalyzer()
	fake.results["NIFTY"] = testSignal("NIFTY")

	signals := store.New(time.Hour)
	sc := New(fake, signals, scanCfg("NIFTY"), zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sc.Run(ctx)
		close(done)
	}()

	// The immediate first cycle publishes before cancellation.
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := signals.Get("NIFTY"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle never published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
