package trader

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarginMode leverage margin mode
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// OrderKind role of an order within one execution
type OrderKind string

const (
	OrderPrimary    OrderKind = "primary"     // immediate-or-cancel limit order opening the position
	OrderTakeProfit OrderKind = "take_profit" // reduce-only trigger
	OrderStopLoss   OrderKind = "stop_loss"   // reduce-only trigger
)

// OrderStatus per-order status reported by the exchange
type OrderStatus string

const (
	StatusResting OrderStatus = "resting"
	StatusFilled  OrderStatus = "filled"
	StatusError   OrderStatus = "error"
)

// OrderRequest exchange-neutral order.
// Primary orders use LimitPrice; trigger orders use TriggerPrice and execute at market.
type OrderRequest struct {
	Symbol       string          `json:"symbol"`
	Kind         OrderKind       `json:"kind"`
	IsBuy        bool            `json:"is_buy"`
	Size         decimal.Decimal `json:"size"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	ReduceOnly   bool            `json:"reduce_only"`
}

// OrderResult raw acknowledgement of one submitted order
type OrderResult struct {
	Kind    OrderKind   `json:"kind"`
	Status  OrderStatus `json:"status"`
	OrderID string      `json:"order_id,omitempty"`
	Reason  string      `json:"reason,omitempty"` // set when Status is error
	Raw     string      `json:"raw,omitempty"`    // exchange payload as returned
}

// Position open position as reported by the exchange
type Position struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // "long" or "short"
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	Leverage   int     `json:"leverage"`
}

// Exchange calls consumed by the execution adapter
type Exchange interface {
	Name() string

	// GetMarketPrice current reference (mid/last) price
	GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// SetLeverage configures leverage for subsequent orders on symbol
	SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error

	// PlaceOrder submits one order; a rejected order is reported through OrderResult.Status,
	// transport failures through the error
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// PositionReader optional capability used for prompt context
type PositionReader interface {
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
}
