// Package scanner drives the periodic scan cycle: it fans the configured
// symbols out over a bounded worker pool, writes results into the signal
// store and notifies the alert pipeline about changes.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"smc-structure-engine/config"
	"smc-structure-engine/internal/aggregator"
	"smc-structure-engine/internal/market"
	"smc-structure-engine/internal/store"
)

// softDeadlineMargin is subtracted from the scan interval so a cycle gives
// up shortly before the next tick instead of overlapping it.
const softDeadlineMargin = time.Second

// Observer is called after each stored signal update with the previous
// record (nil on first sight) and the new one.
type Observer func(prev *aggregator.InstrumentSignal, curr *aggregator.InstrumentSignal)

// SymbolAnalyzer produces the cross-timeframe signal for one symbol.
// A nil signal with a nil error means the symbol is below the alignment
// threshold and nothing should be published.
type SymbolAnalyzer interface {
	AnalyzeSymbol(ctx context.Context, symbol string) (*aggregator.InstrumentSignal, error)
}

// symbolHealth tracks per-symbol failure state between cycles.
type symbolHealth struct {
	failures int
	retryAt  time.Time
	backoff  *backoff.ExponentialBackOff
}

// Scanner owns the scan loop. Start it once with Run; it stops when the
// context is cancelled.
type Scanner struct {
	agg      SymbolAnalyzer
	signals  *store.SignalStore
	cfg      config.ScanConfig
	interval time.Duration
	logger   zerolog.Logger
	observer Observer

	rescan chan struct{}

	mu           sync.Mutex
	health       map[string]*symbolHealth
	lastScanTime time.Time
	nextScanTime time.Time
}

// New creates a scanner. observer may be nil.
func New(agg SymbolAnalyzer, signals *store.SignalStore, cfg config.ScanConfig, logger zerolog.Logger, observer Observer) *Scanner {
	return &Scanner{
		agg:      agg,
		signals:  signals,
		cfg:      cfg,
		interval: time.Duration(cfg.ScanIntervalSeconds) * time.Second,
		logger:   logger,
		observer: observer,
		rescan:   make(chan struct{}, 1),
		health:   make(map[string]*symbolHealth),
	}
}

// Run executes an immediate first cycle, then repeats on the tick interval.
// A forced rescan or the next tick supersedes a cycle still in flight.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scanner stopping")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.rescan:
			s.logger.Info().Msg("forced rescan")
			s.runCycle(ctx)
			ticker.Reset(s.interval)
		}
	}
}

// TriggerRescan requests an immediate cycle. It never blocks; a request
// while one is already pending is coalesced.
func (s *Scanner) TriggerRescan() {
	select {
	case s.rescan <- struct{}{}:
	default:
	}
}

// LastScanTime returns when the most recent cycle started.
func (s *Scanner) LastScanTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScanTime
}

// NextScanIn returns the time until the next scheduled cycle, floored at zero.
func (s *Scanner) NextScanIn() time.Duration {
	s.mu.Lock()
	next := s.nextScanTime
	s.mu.Unlock()

	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	return d
}

// runCycle scans every symbol under a soft deadline one margin short of the
// interval, with at most MaxConcurrentSymbols in flight.
func (s *Scanner) runCycle(ctx context.Context) {
	started := time.Now()
	s.mu.Lock()
	s.lastScanTime = started
	s.nextScanTime = started.Add(s.interval)
	s.mu.Unlock()

	cycleCtx, cancel := context.WithTimeout(ctx, s.interval-softDeadlineMargin)
	defer cancel()

	sem := make(chan struct{}, s.cfg.MaxConcurrentSymbols)
	var wg sync.WaitGroup

	for _, symbol := range s.cfg.Symbols {
		if cycleCtx.Err() != nil {
			break
		}
		if !s.shouldScan(symbol, started) {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-cycleCtx.Done():
			wg.Wait()
			s.logger.Warn().Dur("elapsed", time.Since(started)).
				Msg("scan cycle hit soft deadline")
			return
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.scanSymbol(cycleCtx, symbol)
		}(symbol)
	}

	wg.Wait()
	s.logger.Info().Dur("elapsed", time.Since(started)).
		Int("symbols", len(s.cfg.Symbols)).Msg("scan cycle complete")
}

func (s *Scanner) scanSymbol(ctx context.Context, symbol string) {
	signal, err := s.agg.AnalyzeSymbol(ctx, symbol)
	if err != nil {
		s.recordFailure(symbol, err)
		return
	}

	s.recordSuccess(symbol)

	// Below the alignment threshold: the previous record, if any, stays.
	if signal == nil {
		return
	}

	var prev *aggregator.InstrumentSignal
	if existing, ok := s.signals.Get(symbol); ok {
		prev = &existing
	}

	s.signals.Put(*signal)

	if s.observer != nil {
		s.observer(prev, signal)
	}
}

// shouldScan applies the per-symbol backoff window.
func (s *Scanner) shouldScan(symbol string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.health[symbol]
	if !ok {
		return true
	}
	if now.Before(h.retryAt) {
		s.logger.Debug().Str("symbol", symbol).Time("retry_at", h.retryAt).
			Msg("symbol in backoff, skipping")
		return false
	}
	return true
}

func (s *Scanner) recordSuccess(symbol string) {
	s.mu.Lock()
	delete(s.health, symbol)
	s.mu.Unlock()
}

func (s *Scanner) recordFailure(symbol string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	// Authentication loss means every stored record for this symbol is no
	// longer refreshable; flag it so readers see the staleness.
	if errors.Is(err, market.ErrAuthRequired) {
		s.signals.MarkStale(symbol)
		s.logger.Error().Str("symbol", symbol).Msg("provider authentication required, marking stale")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.health[symbol]
	if !ok {
		h = &symbolHealth{backoff: newSymbolBackoff(s.interval)}
		s.health[symbol] = h
	}
	h.failures++
	h.retryAt = time.Now().Add(h.backoff.NextBackOff())

	logEvent := s.logger.Warn()
	if h.failures >= s.cfg.MaxUnhealthyFailures {
		logEvent = s.logger.Error()
	}
	logEvent.Str("symbol", symbol).Int("failures", h.failures).
		Time("retry_at", h.retryAt).Err(err).Msg("symbol scan failed")
}

// newSymbolBackoff builds the per-symbol retry schedule, capped at one scan
// interval so a symbol is never skipped for more than one full cycle.
func newSymbolBackoff(interval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = interval
	b.MaxElapsedTime = 0
	return b
}
