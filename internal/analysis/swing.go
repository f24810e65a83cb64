package analysis

import (
	"math"

	"smc-structure-engine/internal/market"
)

const (
	minSwingLookback = 5
	maxSwingLookback = 30
	atrPeriod        = 14
	meanPricePeriod  = 20

	// A candidate extreme must clear every neighbour by this margin to be
	// confirmed as a swing; filters equal-high / equal-low noise.
	swingMarginPct = 0.1
)

// SwingDetector finds swing highs and lows using a volatility-adaptive
// lookback window. Deterministic and side-effect free: the same candle
// slice always yields the same swings.
type SwingDetector struct {
	baseLookback int
}

// NewSwingDetector creates a detector with the given base lookback (default 20).
func NewSwingDetector(baseLookback int) *SwingDetector {
	if baseLookback <= 0 {
		baseLookback = 20
	}
	return &SwingDetector{baseLookback: baseLookback}
}

// Lookback returns the adaptive window size for the given candles: the base
// lookback is halved in quiet regimes and widened by half in volatile ones,
// clamped to [5, 30].
func (sd *SwingDetector) Lookback(candles []market.Candle) int {
	vRatio := volatilityRatio(candles)

	factor := 1.0
	switch {
	case vRatio < 1:
		factor = 0.5
	case vRatio > 3:
		factor = 1.5
	}

	l := int(math.Floor(float64(sd.baseLookback) * factor))
	if l < minSwingLookback {
		l = minSwingLookback
	}
	if l > maxSwingLookback {
		l = maxSwingLookback
	}
	return l
}

// Detect returns all confirmed swing points sorted by index ascending.
func (sd *SwingDetector) Detect(candles []market.Candle) []SwingPoint {
	l := sd.Lookback(candles)
	if len(candles) < 2*l+1 {
		return nil
	}

	margin := 1 + swingMarginPct/100

	var swings []SwingPoint
	for i := l; i <= len(candles)-1-l; i++ {
		isHigh := true
		isLow := true
		for j := i - l; j <= i+l; j++ {
			if j == i {
				continue
			}
			if candles[i].High <= candles[j].High*margin {
				isHigh = false
			}
			if candles[i].Low*margin >= candles[j].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			swings = append(swings, SwingPoint{
				Index:     i,
				Price:     candles[i].High,
				Kind:      SwingHigh,
				Timestamp: candles[i].Timestamp,
			})
		}
		if isLow {
			swings = append(swings, SwingPoint{
				Index:     i,
				Price:     candles[i].Low,
				Kind:      SwingLow,
				Timestamp: candles[i].Timestamp,
			})
		}
	}

	return swings
}

// volatilityRatio is ATR(14) over the 20-bar typical-price mean, in percent.
func volatilityRatio(candles []market.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}

	atrStart := len(candles) - atrPeriod
	if atrStart < 1 {
		atrStart = 1
	}
	trSum := 0.0
	trCount := 0
	for i := atrStart; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := candles[i].High - candles[i].Low
		if d := math.Abs(candles[i].High - prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(candles[i].Low - prevClose); d > tr {
			tr = d
		}
		trSum += tr
		trCount++
	}
	if trCount == 0 {
		return 0
	}
	atr := trSum / float64(trCount)

	mpStart := len(candles) - meanPricePeriod
	if mpStart < 0 {
		mpStart = 0
	}
	mpSum := 0.0
	for i := mpStart; i < len(candles); i++ {
		mpSum += (candles[i].High + candles[i].Low + candles[i].Close) / 3
	}
	meanPrice := mpSum / float64(len(candles)-mpStart)
	if meanPrice == 0 {
		return 0
	}

	return atr / meanPrice * 100
}
