package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BrokerClient fetches candles and quotes from the broker's REST API.
// Transient failures are retried with jittered exponential backoff; 401/403
// responses surface as ErrAuthRequired.
type BrokerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
	ready      atomic.Bool
}

// NewBrokerClient creates a broker-backed provider. fetchTimeout bounds every
// individual HTTP request.
func NewBrokerClient(baseURL, apiKey string, fetchTimeout time.Duration, maxRetries int) *BrokerClient {
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	c := &BrokerClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: fetchTimeout},
		maxRetries: uint64(maxRetries),
	}
	c.ready.Store(apiKey != "")
	return c
}

// IsReady reports whether the client holds usable credentials.
func (c *BrokerClient) IsReady() bool {
	return c.ready.Load()
}

type brokerCandle struct {
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"` // Unix millis, bar open
}

// GetCandles fetches up to count candles for (symbol, tf), oldest first.
func (c *BrokerClient) GetCandles(ctx context.Context, symbol string, tf Timeframe, count int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timeframe", string(tf))
	params.Set("count", strconv.Itoa(count))

	endpoint := fmt.Sprintf("%s/v1/candles?%s", c.baseURL, params.Encode())

	var raw []brokerCandle
	if err := c.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, err
	}

	candles := make([]Candle, len(raw))
	for i, r := range raw {
		candles[i] = Candle{
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			Timestamp: time.UnixMilli(r.Timestamp),
		}
	}

	// The adapter contract requires strictly ascending timestamps.
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			return nil, &SourceError{Symbol: symbol, Err: fmt.Errorf("candles out of order at index %d", i)}
		}
	}

	return candles, nil
}

type brokerQuote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
	Timestamp     int64   `json:"timestamp"`
}

// LatestQuote fetches the most recent traded price for symbol.
func (c *BrokerClient) LatestQuote(ctx context.Context, symbol string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/v1/quote?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	var raw brokerQuote
	if err := c.getJSON(ctx, endpoint, &raw); err != nil {
		return Quote{}, err
	}

	return Quote{
		Symbol:        raw.Symbol,
		Price:         raw.Price,
		ChangePercent: raw.ChangePercent,
		Timestamp:     time.UnixMilli(raw.Timestamp),
	}, nil
}

// getJSON performs a GET with retry on transient failures and decodes the body.
func (c *BrokerClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	return backoff.Retry(func() error {
		err := c.doGet(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, policy)
}

func (c *BrokerClient) doGet(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		c.ready.Store(false)
		return ErrAuthRequired
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}
