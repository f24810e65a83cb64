package market

import (
	"context"
	"errors"
	"fmt"
)

// Provider supplies ordered candle streams and latest quotes. Implementations
// must return candles sorted by timestamp ascending, contiguous, at the
// requested timeframe's interval.
type Provider interface {
	GetCandles(ctx context.Context, symbol string, tf Timeframe, count int) ([]Candle, error)
	LatestQuote(ctx context.Context, symbol string) (Quote, error)
	IsReady() bool
}

// ErrAuthRequired is returned when the provider's credentials are missing or
// expired. Scanning continues on other symbols; affected symbols keep their
// last known snapshot marked stale.
var ErrAuthRequired = errors.New("provider authentication required")

// TransientError wraps a retryable provider failure (network, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SourceError wraps a non-retryable provider failure that is not an
// authentication problem (malformed payload, unknown symbol).
type SourceError struct {
	Symbol string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("candle source error for %s: %v", e.Symbol, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
