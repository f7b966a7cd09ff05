package decision

import (
	"fmt"
	"strings"
)

// Direction trade direction derived from sentiment
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionWait  Direction = "wait"
)

const (
	shortBelowSentiment = 30.0
	longAboveSentiment  = 70.0
)

// ParseDirection normalizes a textual direction ("LONG", "Short", ...)
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionLong:
		return DirectionLong, nil
	case DirectionShort:
		return DirectionShort, nil
	case DirectionWait:
		return DirectionWait, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// DirectionFromSentiment <30 short, [30,70] wait, >70 long
func DirectionFromSentiment(sentiment float64) Direction {
	switch {
	case sentiment < shortBelowSentiment:
		return DirectionShort
	case sentiment > longAboveSentiment:
		return DirectionLong
	default:
		return DirectionWait
	}
}

// IsBuy reports whether opening this direction buys the asset
func (d Direction) IsBuy() bool {
	return d == DirectionLong
}

// TradeIntent structured trade decision extracted from agent text (not yet persisted)
type TradeIntent struct {
	Direction       Direction `json:"trade"`
	StatedDirection Direction `json:"stated_trade,omitempty"` // explicit "trade:" label, if the text carried one
	AllocationUSD   float64   `json:"allocation"`
	StopLossUSD     float64   `json:"stoploss"`
	TakeProfitUSD   float64   `json:"takeprofit"`
	SentimentPct    float64   `json:"sentiment"`
	Leverage        float64   `json:"leverage,omitempty"`
	ReferenceID     int64     `json:"id,omitempty"`
	PriceContext    float64   `json:"prix_btc,omitempty"` // informational only
}

// IsWait a wait intent is terminal for the decision cycle
func (t *TradeIntent) IsWait() bool {
	return t.Direction == DirectionWait
}

// HasReference reports whether the intent targets an existing ledger entry
func (t *TradeIntent) HasReference() bool {
	return t.ReferenceID > 0
}

func (t *TradeIntent) String() string {
	s := fmt.Sprintf("%s allocation=$%g sl=$%g tp=$%g sentiment=%g%%",
		strings.ToUpper(string(t.Direction)), t.AllocationUSD, t.StopLossUSD, t.TakeProfitUSD, t.SentimentPct)
	if t.Leverage > 0 {
		s += fmt.Sprintf(" leverage=%gx", t.Leverage)
	}
	if t.ReferenceID > 0 {
		s += fmt.Sprintf(" id=%d", t.ReferenceID)
	}
	return s
}

// DeleteIntent cancellation of an existing ledger entry
type DeleteIntent struct {
	TargetID int64 `json:"id"`
}
