// Package store holds the most recent instrument signal per symbol and
// serves filtered point-in-time reads.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"smc-structure-engine/internal/aggregator"
	"smc-structure-engine/internal/analysis"
)

// Direction filters signals by the side of the expected move.
type Direction string

const (
	DirectionAny   Direction = ""
	DirectionUpper Direction = "upper" // bullish structure
	DirectionLower Direction = "lower" // bearish structure
)

// FilterOptions narrows List results. Zero values mean "no filter".
type FilterOptions struct {
	MinMatches   int
	Direction    Direction
	MaxProximity float64 // keep signals within +/- this percent of the break
	Structure    analysis.Structure
	Query        string // case-insensitive substring symbol match
}

// indexAliases maps common spoken names to instrument symbols for search.
var indexAliases = map[string]string{
	"bank nifty":   "BANKNIFTY",
	"nifty bank":   "BANKNIFTY",
	"fin nifty":    "FINNIFTY",
	"nifty fifty":  "NIFTY",
	"nifty 50":     "NIFTY",
	"state bank":   "SBIN",
	"reliance ind": "RELIANCE",
}

type signalEntry struct {
	mu     sync.Mutex
	signal aggregator.InstrumentSignal
}

// SignalStore maps symbols to their most recent signal. Reads return copies;
// writes replace the whole record under a per-key guard.
type SignalStore struct {
	mu        sync.RWMutex
	entries   map[string]*signalEntry
	favorites map[string]bool
	staleTTL  time.Duration
}

// New creates a store. staleTTL is the age past which reads mark a record
// stale (records are never removed).
func New(staleTTL time.Duration) *SignalStore {
	return &SignalStore{
		entries:   make(map[string]*signalEntry),
		favorites: make(map[string]bool),
		staleTTL:  staleTTL,
	}
}

// Put replaces the stored signal for its symbol.
func (s *SignalStore) Put(signal aggregator.InstrumentSignal) {
	s.mu.Lock()
	entry, ok := s.entries[signal.Symbol]
	if !ok {
		entry = &signalEntry{}
		s.entries[signal.Symbol] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	entry.signal = signal
	entry.mu.Unlock()
}

// Get returns a point-in-time copy of one symbol's signal.
func (s *SignalStore) Get(symbol string) (aggregator.InstrumentSignal, bool) {
	s.mu.RLock()
	entry, ok := s.entries[symbol]
	s.mu.RUnlock()
	if !ok {
		return aggregator.InstrumentSignal{}, false
	}

	entry.mu.Lock()
	signal := entry.signal
	entry.mu.Unlock()

	s.markStale(&signal)
	return signal, true
}

// MarkStale flags a symbol's record as stale in place (used when the
// provider cannot refresh it, e.g. authentication failures).
func (s *SignalStore) MarkStale(symbol string) {
	s.mu.RLock()
	entry, ok := s.entries[symbol]
	s.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.signal.Stale = true
	entry.mu.Unlock()
}

// List returns all signals passing the filter, sorted by alignment then mean
// confidence.
func (s *SignalStore) List(opts FilterOptions) []aggregator.InstrumentSignal {
	signals := s.snapshotAll()

	filtered := signals[:0]
	for _, sig := range signals {
		if !s.matches(sig, opts) {
			continue
		}
		filtered = append(filtered, sig)
	}

	aggregator.SortSignals(filtered)
	return filtered
}

// Search performs a case-insensitive substring match over symbols, with the
// alias table applied first; at most limit results, sorted alphabetically.
func (s *SignalStore) Search(query string, limit int) []aggregator.InstrumentSignal {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if alias, ok := indexAliases[q]; ok {
		q = strings.ToLower(alias)
	}

	signals := s.snapshotAll()

	matched := signals[:0]
	for _, sig := range signals {
		if strings.Contains(strings.ToLower(sig.Symbol), q) {
			matched = append(matched, sig)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Symbol < matched[j].Symbol
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Counts summarizes the store for the stats endpoint.
type Counts struct {
	Total     int `json:"total"`
	Upper     int `json:"upper"`
	Lower     int `json:"lower"`
	Favorites int `json:"favorites"`
}

// Count tallies stored signals by direction plus the favorites set.
func (s *SignalStore) Count() Counts {
	signals := s.snapshotAll()

	c := Counts{Total: len(signals)}
	for _, sig := range signals {
		if sig.OverallStructure.Bullish() {
			c.Upper++
		} else if sig.OverallStructure.Bearish() {
			c.Lower++
		}
	}

	s.mu.RLock()
	c.Favorites = len(s.favorites)
	s.mu.RUnlock()

	return c
}

// SetFavorite adds or removes a symbol bookmark.
func (s *SignalStore) SetFavorite(symbol string, favorite bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if favorite {
		s.favorites[symbol] = true
	} else {
		delete(s.favorites, symbol)
	}
}

// IsFavorite reports whether a symbol is bookmarked.
func (s *SignalStore) IsFavorite(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.favorites[symbol]
}

func (s *SignalStore) snapshotAll() []aggregator.InstrumentSignal {
	s.mu.RLock()
	entries := make([]*signalEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	signals := make([]aggregator.InstrumentSignal, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		sig := entry.signal
		entry.mu.Unlock()
		s.markStale(&sig)
		signals = append(signals, sig)
	}
	return signals
}

func (s *SignalStore) markStale(sig *aggregator.InstrumentSignal) {
	if s.staleTTL > 0 && time.Since(sig.UpdatedAt) > s.staleTTL {
		sig.Stale = true
	}
}

func (s *SignalStore) matches(sig aggregator.InstrumentSignal, opts FilterOptions) bool {
	if opts.MinMatches > 0 && sig.MatchingTimeframes < opts.MinMatches {
		return false
	}
	switch opts.Direction {
	case DirectionUpper:
		if !sig.OverallStructure.Bullish() {
			return false
		}
	case DirectionLower:
		if !sig.OverallStructure.Bearish() {
			return false
		}
	}
	if opts.MaxProximity > 0 && sig.AvgProximityPct > opts.MaxProximity {
		return false
	}
	if opts.Structure != "" && sig.OverallStructure != opts.Structure {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		if alias, ok := indexAliases[q]; ok {
			q = strings.ToLower(alias)
		}
		if !strings.Contains(strings.ToLower(sig.Symbol), q) {
			return false
		}
	}
	return true
}
