package trader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PriceSource external reference price used by the paper trader
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// PaperTrader Paper trading simulator
// Does not connect to real exchanges: IOC orders fill when the limit crosses the reference price,
// trigger orders rest until the process exits.
type PaperTrader struct {
	source PriceSource

	mu        sync.RWMutex
	prices    map[string]decimal.Decimal // fixed prices, take precedence over source
	leverage  map[string]int
	positions map[string]*paperPosition
	orders    []PaperOrder

	nextID atomic.Int64
}

type paperPosition struct {
	size       decimal.Decimal // signed: >0 long, <0 short
	entryPrice decimal.Decimal
}

// PaperOrder order accepted by the simulator
type PaperOrder struct {
	ID      string
	Request OrderRequest
	Status  OrderStatus
}

// NewPaperTrader creates a simulator; source may be nil when prices are set with SetPrice
func NewPaperTrader(source PriceSource) *PaperTrader {
	t := &PaperTrader{
		source:    source,
		prices:    make(map[string]decimal.Decimal),
		leverage:  make(map[string]int),
		positions: make(map[string]*paperPosition),
	}
	t.nextID.Store(1000)
	return t
}

// SetPrice pins the reference price of symbol
func (t *PaperTrader) SetPrice(symbol string, price float64) {
	t.mu.Lock()
	t.prices[strings.ToUpper(symbol)] = decimal.NewFromFloat(price)
	t.mu.Unlock()
}

func (t *PaperTrader) Name() string {
	return "paper"
}

func (t *PaperTrader) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t.mu.RLock()
	price, ok := t.prices[strings.ToUpper(symbol)]
	t.mu.RUnlock()
	if ok {
		return price, nil
	}
	if t.source == nil {
		return decimal.Zero, fmt.Errorf("no price available for %s", symbol)
	}
	p, err := t.source.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(p), nil
}

func (t *PaperTrader) SetLeverage(_ context.Context, symbol string, leverage int, mode MarginMode) error {
	if leverage < 1 {
		return fmt.Errorf("invalid leverage %d", leverage)
	}
	t.mu.Lock()
	t.leverage[strings.ToUpper(symbol)] = leverage
	t.mu.Unlock()
	log.Debug().Str("symbol", symbol).Int("leverage", leverage).Str("mode", string(mode)).Msg("📄 Paper leverage set")
	return nil
}

func (t *PaperTrader) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if !req.Size.IsPositive() {
		return OrderResult{}, errors.New("order size must be positive")
	}
	id := strconv.FormatInt(t.nextID.Add(1), 10)
	result := OrderResult{Kind: req.Kind, OrderID: id}

	switch req.Kind {
	case OrderTakeProfit, OrderStopLoss:
		result.Status = StatusResting
	default:
		price, err := t.GetMarketPrice(ctx, req.Symbol)
		if err != nil {
			return OrderResult{}, err
		}
		crosses := (req.IsBuy && req.LimitPrice.GreaterThanOrEqual(price)) ||
			(!req.IsBuy && req.LimitPrice.LessThanOrEqual(price))
		if !crosses {
			result.Status = StatusError
			result.Reason = "IOC limit did not cross the market"
			break
		}
		t.fill(req, price)
		result.Status = StatusFilled
	}

	t.mu.Lock()
	t.orders = append(t.orders, PaperOrder{ID: id, Request: req, Status: result.Status})
	t.mu.Unlock()

	log.Info().Str("kind", string(req.Kind)).Str("status", string(result.Status)).Str("size", req.Size.String()).Msg("📄 Paper order")
	return result, nil
}

func (t *PaperTrader) fill(req OrderRequest, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := strings.ToUpper(req.Symbol)
	delta := req.Size
	if !req.IsBuy {
		delta = delta.Neg()
	}

	pos, ok := t.positions[key]
	if !ok {
		t.positions[key] = &paperPosition{size: delta, entryPrice: price}
		return
	}

	next := pos.size.Add(delta)
	switch {
	case next.IsZero():
		delete(t.positions, key)
	case pos.size.Sign() == delta.Sign():
		// same direction: volume-weighted entry
		notional := pos.size.Abs().Mul(pos.entryPrice).Add(delta.Abs().Mul(price))
		pos.entryPrice = notional.Div(next.Abs())
		pos.size = next
	case pos.size.Sign() != next.Sign():
		// flipped through zero
		pos.size = next
		pos.entryPrice = price
	default:
		pos.size = next
	}
}

// GetPositions simulated open positions
func (t *PaperTrader) GetPositions(_ context.Context, symbol string) ([]Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Position
	for key, pos := range t.positions {
		if symbol != "" && !strings.EqualFold(key, symbol) {
			continue
		}
		p := Position{
			Symbol:     key,
			Side:       "long",
			Size:       pos.size.Abs().InexactFloat64(),
			EntryPrice: pos.entryPrice.InexactFloat64(),
			Leverage:   t.leverage[key],
		}
		if pos.size.IsNegative() {
			p.Side = "short"
		}
		out = append(out, p)
	}
	return out, nil
}

// Orders every order accepted so far, oldest first
func (t *PaperTrader) Orders() []PaperOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PaperOrder, len(t.orders))
	copy(out, t.orders)
	return out
}
