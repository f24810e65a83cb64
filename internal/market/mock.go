package market

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// MockProvider generates deterministic candle series for development and
// tests. Each (symbol, timeframe) pair derives a stable seed from the base
// seed, so repeated scans see the same history.
type MockProvider struct {
	seed       int64
	basePrices map[string]float64
}

// NewMockProvider creates a mock provider. A zero seed selects a fixed
// default so runs stay reproducible.
func NewMockProvider(seed int64) *MockProvider {
	if seed == 0 {
		seed = 42
	}
	return &MockProvider{
		seed: seed,
		basePrices: map[string]float64{
			"NIFTY":     24500.00,
			"BANKNIFTY": 52000.00,
			"FINNIFTY":  23500.00,
			"RELIANCE":  2950.00,
			"HDFCBANK":  1680.00,
			"TCS":       4100.00,
			"INFY":      1850.00,
			"SBIN":      830.00,
			"BTCUSDT":   104500.00,
			"ETHUSDT":   3900.00,
		},
	}
}

// IsReady always holds for the mock.
func (m *MockProvider) IsReady() bool { return true }

// trendBias gives each symbol a persistent drift so different instruments
// exercise different structural regimes.
func (m *MockProvider) trendBias(symbol string) float64 {
	switch m.symbolSeed(symbol, "") % 4 {
	case 0:
		return 0.0008 // drifting up
	case 1:
		return -0.0008 // drifting down
	case 2:
		return 0.0 // sideways
	default:
		return 0.0003 // mildly up, volatile
	}
}

func (m *MockProvider) symbolSeed(symbol string, tf string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{':'})
	h.Write([]byte(tf))
	return m.seed + int64(h.Sum64()%1_000_000)
}

// GetCandles generates count candles ending at the last closed bar boundary.
func (m *MockProvider) GetCandles(ctx context.Context, symbol string, tf Timeframe, count int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	basePrice, ok := m.basePrices[symbol]
	if !ok {
		basePrice = 100.0
	}

	interval := tf.Interval()
	end := time.Now().Truncate(interval)
	start := end.Add(-time.Duration(count) * interval)

	rng := rand.New(rand.NewSource(m.symbolSeed(symbol, string(tf))))
	bias := m.trendBias(symbol)
	volatility := 0.004 + rng.Float64()*0.004

	candles := make([]Candle, count)
	price := basePrice
	for i := 0; i < count; i++ {
		open := price
		change := rng.NormFloat64()*volatility + bias
		close := open * (1 + change)

		span := math.Max(open, close) * volatility * 0.6
		high := math.Max(open, close) + math.Abs(rng.NormFloat64())*span
		low := math.Min(open, close) - math.Abs(rng.NormFloat64())*span
		volume := basePrice * (500 + rng.Float64()*2000)

		candles[i] = Candle{
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			Timestamp: start.Add(time.Duration(i) * interval),
		}
		price = close
	}

	return candles, nil
}

// LatestQuote returns the close of the most recent 5m mock candle.
func (m *MockProvider) LatestQuote(ctx context.Context, symbol string) (Quote, error) {
	candles, err := m.GetCandles(ctx, symbol, TF5m, 2)
	if err != nil {
		return Quote{}, err
	}
	last := candles[len(candles)-1]
	prev := candles[0]

	changePct := 0.0
	if prev.Close != 0 {
		changePct = (last.Close - prev.Close) / prev.Close * 100
	}

	return Quote{
		Symbol:        symbol,
		Price:         last.Close,
		ChangePercent: changePct,
		Timestamp:     last.Timestamp,
	}, nil
}

var _ Provider = (*MockProvider)(nil)
var _ Provider = (*BrokerClient)(nil)
