package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smc-structure-engine/config"
	"smc-structure-engine/internal/aggregator"
	"smc-structure-engine/internal/alerts"
	"smc-structure-engine/internal/analysis"
	"smc-structure-engine/internal/market"
	"smc-structure-engine/internal/scanner"
	"smc-structure-engine/internal/store"
)

type stubAnalyzer struct{}

func (stubAnalyzer) AnalyzeSymbol(ctx context.Context, symbol string) (*aggregator.InstrumentSignal, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *store.SignalStore, *alerts.Bus, *scanner.Scanner) {
	t.Helper()

	signals := store.New(time.Hour)
	bus := alerts.NewBus(16, 100, zerolog.Nop())
	t.Cleanup(bus.Close)

	sc := scanner.New(stubAnalyzer{}, signals, config.ScanConfig{
		Symbols:              []string{"NIFTY"},
		ScanIntervalSeconds:  120,
		MaxConcurrentSymbols: 2,
		MaxUnhealthyFailures: 3,
	}, zerolog.Nop(), nil)

	srv := NewServer(signals, sc, bus, market.NewMockProvider(1), nil, config.ServerConfig{
		Port: 0, Host: "127.0.0.1", AllowedOrigins: "*",
		ReadTimeout: 5, WriteTimeout: 5, ShutdownTimeout: 1,
	}, zerolog.Nop())

	return srv, signals, bus, sc
}

func seedSignal(signals *store.SignalStore, symbol string, structure analysis.Structure, matching int, proximity float64) {
	signals.Put(aggregator.InstrumentSignal{
		Symbol:             symbol,
		CurrentPrice:       100,
		OverallStructure:   structure,
		MatchingTimeframes: matching,
		MeanConfidence:     75,
		AvgProximityPct:    proximity,
		UpdatedAt:          time.Now(),
	})
}

func doRequest(srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestListSignals(t *testing.T) {
	srv, signals, _, _ := newTestServer(t)
	seedSignal(signals, "NIFTY", analysis.StructureBullish, 4, 1.0)
	seedSignal(signals, "BANKNIFTY", analysis.StructureBearish, 2, 4.0)

	rec := doRequest(srv, http.MethodGet, "/signals", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Signals []aggregator.InstrumentSignal `json:"signals"`
		Count   int                           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("expected 2 signals, got %d", resp.Count)
	}
	if resp.Signals[0].Symbol != "NIFTY" {
		t.Errorf("best-aligned signal must come first, got %s", resp.Signals[0].Symbol)
	}
}

func TestListSignalsFilters(t *testing.T) {
	srv, signals, _, _ := newTestServer(t)
	seedSignal(signals, "NIFTY", analysis.StructureBullish, 4, 1.0)
	seedSignal(signals, "BANKNIFTY", analysis.StructureBearish, 2, 4.0)

	cases := []struct {
		query string
		want  int
	}{
		{"minMatches=3", 1},
		{"direction=upper", 1},
		{"direction=lower", 1},
		{"proximity=2", 1},
		{"q=bank", 1},
	}
	for _, tc := range cases {
		rec := doRequest(srv, http.MethodGet, "/signals?"+tc.query, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.query, rec.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Count != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.query, tc.want, resp.Count)
		}
	}

	if rec := doRequest(srv, http.MethodGet, "/signals?direction=sideways", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad direction must 400, got %d", rec.Code)
	}
	if rec := doRequest(srv, http.MethodGet, "/signals?minMatches=-1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative minMatches must 400, got %d", rec.Code)
	}
}

func TestGetSignal(t *testing.T) {
	srv, signals, _, _ := newTestServer(t)
	seedSignal(signals, "NIFTY", analysis.StructureBullish, 4, 1.0)

	rec := doRequest(srv, http.MethodGet, "/signals/nifty", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup must be case-insensitive, got %d", rec.Code)
	}

	if rec := doRequest(srv, http.MethodGet, "/signals/UNKNOWN", ""); rec.Code != http.StatusNotFound {
		t.Errorf("store miss must 404, got %d", rec.Code)
	}
}

func TestSearchSignals(t *testing.T) {
	srv, signals, _, _ := newTestServer(t)
	seedSignal(signals, "BANKNIFTY", analysis.StructureBearish, 2, 4.0)

	rec := doRequest(srv, http.MethodGet, "/signals/search?q=bank+nifty", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("alias search must find BANKNIFTY, got %d", resp.Count)
	}

	if rec := doRequest(srv, http.MethodGet, "/signals/search", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing query must 400, got %d", rec.Code)
	}
}

func TestFavoriteRoundTrip(t *testing.T) {
	srv, signals, _, _ := newTestServer(t)
	seedSignal(signals, "NIFTY", analysis.StructureBullish, 4, 1.0)

	rec := doRequest(srv, http.MethodPost, "/signals/NIFTY/favorite", `{"favorite": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !signals.IsFavorite("NIFTY") {
		t.Error("favorite must be recorded")
	}

	if rec := doRequest(srv, http.MethodPost, "/signals/UNKNOWN/favorite", `{"favorite": true}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol must 404, got %d", rec.Code)
	}
	if rec := doRequest(srv, http.MethodPost, "/signals/NIFTY/favorite", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing favorite field must 400, got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	srv, signals, _, _ := newTestServer(t)
	seedSignal(signals, "NIFTY", analysis.StructureBullish, 4, 1.0)
	seedSignal(signals, "BANKNIFTY", analysis.StructureBearish, 2, 4.0)
	signals.SetFavorite("NIFTY", true)

	rec := doRequest(srv, http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Total     int `json:"total"`
		Upper     int `json:"upper"`
		Lower     int `json:"lower"`
		Favorites int `json:"favorites"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 || resp.Upper != 1 || resp.Lower != 1 || resp.Favorites != 1 {
		t.Errorf("unexpected stats: %+v", resp)
	}
}

func TestRescanAccepted(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/rescan", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("rescan must return 202, got %d", rec.Code)
	}
}

func TestAlertEndpoints(t *testing.T) {
	srv, _, bus, _ := newTestServer(t)

	var lastID string
	for i := 0; i < 3; i++ {
		a := alerts.Alert{ID: "id-" + string(rune('a'+i)), Symbol: "NIFTY", Type: alerts.TypeBOSBreak, Priority: alerts.PriorityHigh, Timestamp: time.Now()}
		lastID = a.ID
		bus.Publish(a)
	}

	rec := doRequest(srv, http.MethodGet, "/alerts?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Alerts []alerts.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 2 || resp.Alerts[0].ID != lastID {
		t.Errorf("unexpected alerts: %+v", resp)
	}

	if rec := doRequest(srv, http.MethodPost, "/alerts/"+lastID+"/read", ""); rec.Code != http.StatusOK {
		t.Errorf("mark read must 200, got %d", rec.Code)
	}
	if rec := doRequest(srv, http.MethodPost, "/alerts/nope/read", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert must 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz must 200, got %d", rec.Code)
	}
}
