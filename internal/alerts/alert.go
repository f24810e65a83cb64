// Package alerts turns signal transitions into user-facing alerts and fans
// them out to subscribers over bounded channels.
package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of transition produced an alert.
type Type string

const (
	TypeBOSEntry     Type = "BOS_ENTRY"     // price moved into the entry zone
	TypeBOSBreak     Type = "BOS_BREAK"     // a fresh break of structure
	TypeTrendChange  Type = "TREND_CHANGE"  // regime flipped via CHOCH
	TypeFVGMitigated Type = "FVG_MITIGATED" // an active gap was filled
	TypePriceAlert   Type = "PRICE_ALERT"   // user-defined price level crossed
)

// Priority orders alerts for display.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Alert is one notification. Read state is mutated in the history buffer
// only; copies already delivered to subscribers are unaffected.
type Alert struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Type      Type      `json:"type"`
	Priority  Priority  `json:"priority"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"emittedAt"`
	Read      bool      `json:"read"`
}

func newAlert(symbol string, typ Type, priority Priority, message string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Type:      typ,
		Priority:  priority,
		Message:   message,
		Timestamp: time.Now(),
	}
}
