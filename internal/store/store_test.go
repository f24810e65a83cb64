package store

import (
	"testing"
	"time"

	"smc-structure-engine/internal/aggregator"
	"smc-structure-engine/internal/analysis"
)

func signal(symbol string, structure analysis.Structure, matching int, meanConf, proximity float64) aggregator.InstrumentSignal {
	return aggregator.InstrumentSignal{
		Symbol:             symbol,
		CurrentPrice:       100,
		OverallStructure:   structure,
		MatchingTimeframes: matching,
		MeanConfidence:     meanConf,
		AvgProximityPct:    proximity,
		UpdatedAt:          time.Now(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(time.Hour)
	s.Put(signal("NIFTY", analysis.StructureBullish, 3, 80, 1.5))

	got, ok := s.Get("NIFTY")
	if !ok {
		t.Fatal("expected a stored signal")
	}
	if got.Symbol != "NIFTY" || got.MatchingTimeframes != 3 {
		t.Errorf("unexpected signal: %+v", got)
	}
	if got.Stale {
		t.Error("fresh signal must not be stale")
	}

	if _, ok := s.Get("UNKNOWN"); ok {
		t.Error("unknown symbol must miss")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(time.Hour)
	s.Put(signal("NIFTY", analysis.StructureBullish, 3, 80, 1.5))

	first, _ := s.Get("NIFTY")
	first.MeanConfidence = 0

	second, _ := s.Get("NIFTY")
	if second.MeanConfidence != 80 {
		t.Error("reads must return point-in-time copies")
	}
}

func TestStaleMarkedOnRead(t *testing.T) {
	s := New(time.Minute)
	old := signal("NIFTY", analysis.StructureBullish, 3, 80, 1.5)
	old.UpdatedAt = time.Now().Add(-2 * time.Minute)
	s.Put(old)

	got, _ := s.Get("NIFTY")
	if !got.Stale {
		t.Error("record past the TTL must read as stale")
	}

	for _, sig := range s.List(FilterOptions{}) {
		if sig.Symbol == "NIFTY" && !sig.Stale {
			t.Error("stale flag must apply to list reads too")
		}
	}
}

func TestMarkStale(t *testing.T) {
	s := New(time.Hour)
	s.Put(signal("NIFTY", analysis.StructureBullish, 3, 80, 1.5))
	s.MarkStale("NIFTY")

	got, _ := s.Get("NIFTY")
	if !got.Stale {
		t.Error("MarkStale must flag the record")
	}
}

func TestListFilters(t *testing.T) {
	s := New(time.Hour)
	s.Put(signal("NIFTY", analysis.StructureBullish, 4, 90, 1.0))
	s.Put(signal("BANKNIFTY", analysis.StructureBearish, 3, 70, 2.5))
	s.Put(signal("TCS", analysis.StructureBullish, 2, 60, 5.0))

	if got := s.List(FilterOptions{MinMatches: 3}); len(got) != 2 {
		t.Errorf("minMatches filter: expected 2, got %d", len(got))
	}
	if got := s.List(FilterOptions{Direction: DirectionUpper}); len(got) != 2 {
		t.Errorf("upper filter: expected 2, got %d", len(got))
	}
	if got := s.List(FilterOptions{Direction: DirectionLower}); len(got) != 1 || got[0].Symbol != "BANKNIFTY" {
		t.Errorf("lower filter: got %+v", got)
	}
	if got := s.List(FilterOptions{MaxProximity: 3.0}); len(got) != 2 {
		t.Errorf("proximity filter: expected 2, got %d", len(got))
	}
	if got := s.List(FilterOptions{Structure: analysis.StructureBearish}); len(got) != 1 {
		t.Errorf("structure filter: expected 1, got %d", len(got))
	}

	// Results ordered by alignment, then mean confidence.
	all := s.List(FilterOptions{})
	if all[0].Symbol != "NIFTY" || all[1].Symbol != "BANKNIFTY" || all[2].Symbol != "TCS" {
		t.Errorf("unexpected ordering: %v", []string{all[0].Symbol, all[1].Symbol, all[2].Symbol})
	}
}

func TestSearchSubstringAndAlias(t *testing.T) {
	s := New(time.Hour)
	s.Put(signal("NIFTY", analysis.StructureBullish, 3, 80, 1.0))
	s.Put(signal("BANKNIFTY", analysis.StructureBearish, 3, 70, 2.0))
	s.Put(signal("FINNIFTY", analysis.StructureBullish, 2, 60, 3.0))

	if got := s.Search("nifty", 20); len(got) != 3 {
		t.Errorf("substring search: expected 3, got %d", len(got))
	}
	if got := s.Search("BANK", 20); len(got) != 1 || got[0].Symbol != "BANKNIFTY" {
		t.Errorf("case-insensitive search: got %+v", got)
	}

	// Alias table maps the spoken name to its instrument.
	got := s.Search("bank nifty", 20)
	if len(got) != 1 || got[0].Symbol != "BANKNIFTY" {
		t.Errorf("alias search: got %+v", got)
	}

	if got := s.Search("nifty", 2); len(got) != 2 {
		t.Errorf("limit: expected 2, got %d", len(got))
	}
	if got := s.Search("  ", 20); got != nil {
		t.Errorf("blank query must return nothing, got %+v", got)
	}
}

func TestCountAndFavorites(t *testing.T) {
	s := New(time.Hour)
	s.Put(signal("NIFTY", analysis.StructureBullish, 3, 80, 1.0))
	s.Put(signal("BANKNIFTY", analysis.StructureBearish, 3, 70, 2.0))
	s.Put(signal("TCS", analysis.StructureBullishCHOCH, 2, 60, 3.0))

	s.SetFavorite("NIFTY", true)
	s.SetFavorite("TCS", true)
	s.SetFavorite("TCS", false)

	c := s.Count()
	if c.Total != 3 {
		t.Errorf("total: got %d", c.Total)
	}
	if c.Upper != 2 {
		t.Errorf("upper (bullish incl. CHOCH): got %d", c.Upper)
	}
	if c.Lower != 1 {
		t.Errorf("lower: got %d", c.Lower)
	}
	if c.Favorites != 1 {
		t.Errorf("favorites: got %d", c.Favorites)
	}

	if !s.IsFavorite("NIFTY") || s.IsFavorite("TCS") {
		t.Error("favorite flags wrong")
	}
}

func TestPutReplacesWholeRecord(t *testing.T) {
	s := New(time.Hour)
	first := signal("NIFTY", analysis.StructureBullish, 4, 90, 1.0)
	first.TotalFVGs = 7
	s.Put(first)

	second := signal("NIFTY", analysis.StructureBearish, 2, 55, 4.0)
	s.Put(second)

	got, _ := s.Get("NIFTY")
	if got.OverallStructure != analysis.StructureBearish || got.TotalFVGs != 0 {
		t.Errorf("write must replace the whole record, got %+v", got)
	}
}
