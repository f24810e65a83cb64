package market

import (
	"fmt"
	"time"
)

// Candle is a single OHLCV bar. Timestamp is the bar open time.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Quote is the latest traded price for a symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Timeframe is a candle interval token ("5m", "15m", "30m", "1h", "2h", "4h").
type Timeframe string

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
)

// AllTimeframes is the fixed analysis set, shortest first.
var AllTimeframes = []Timeframe{TF5m, TF15m, TF30m, TF1h, TF2h, TF4h}

// Interval returns the bar duration for the timeframe. Unknown tokens
// fall back to one minute.
func (tf Timeframe) Interval() time.Duration {
	switch tf {
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF30m:
		return 30 * time.Minute
	case TF1h:
		return time.Hour
	case TF2h:
		return 2 * time.Hour
	case TF4h:
		return 4 * time.Hour
	default:
		return time.Minute
	}
}

// ParseTimeframe validates a timeframe token.
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range AllTimeframes {
		if string(tf) == s {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unknown timeframe token %q", s)
}

// InvalidCandleError reports a candle violating the OHLC invariant
// low <= min(open, close) <= max(open, close) <= high.
type InvalidCandleError struct {
	Index  int
	Candle Candle
}

func (e *InvalidCandleError) Error() string {
	return fmt.Sprintf("invalid candle at index %d: O=%.4f H=%.4f L=%.4f C=%.4f",
		e.Index, e.Candle.Open, e.Candle.High, e.Candle.Low, e.Candle.Close)
}

// Validate checks a candle's OHLC invariant.
func (c Candle) Validate() bool {
	lo := c.Open
	hi := c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return c.Low <= lo && hi <= c.High && c.Volume >= 0
}

// Body returns the absolute open-close body size.
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}
