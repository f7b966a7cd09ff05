package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/etherwave-labs/ai-agent-playground/decision"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ExecutorConfig sizing and order parameters for one traded asset
type ExecutorConfig struct {
	Symbol       string
	SizeDecimals int32
	MinSize      decimal.Decimal
	SlippagePct  float64
	TickSize     decimal.Decimal
	MaxLeverage  int
	MarginMode   MarginMode
}

func (c *ExecutorConfig) applyDefaults() {
	if c.Symbol == "" {
		c.Symbol = "BTC"
	}
	if c.SizeDecimals <= 0 {
		c.SizeDecimals = DefaultSizeDecimals
	}
	if !c.MinSize.IsPositive() {
		c.MinSize = DefaultMinSize
	}
	if c.SlippagePct <= 0 {
		c.SlippagePct = DefaultSlippagePct
	}
	if c.TickSize.IsZero() {
		c.TickSize = DefaultTickSize
	}
	if c.MarginMode == "" {
		c.MarginMode = MarginIsolated
	}
}

// ExecutionReport what was sent to the exchange and what came back
type ExecutionReport struct {
	Exchange       string          `json:"exchange"`
	Symbol         string          `json:"symbol"`
	IsBuy          bool            `json:"is_buy"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Size           decimal.Decimal `json:"size"`
	Floored        bool            `json:"floored"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	Leverage       int             `json:"leverage,omitempty"`
	Primary        OrderResult     `json:"primary"`
	TakeProfit     *OrderResult    `json:"take_profit,omitempty"`
	StopLoss       *OrderResult    `json:"stop_loss,omitempty"`
	Warnings       []*ExecError    `json:"-"`
}

// WarningMessages warnings as plain strings
func (r *ExecutionReport) WarningMessages() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Error())
	}
	return out
}

// Executor turns a validated intent into exchange orders
type Executor struct {
	exchange Exchange
	cfg      ExecutorConfig
}

// NewExecutor creates an executor over exchange
func NewExecutor(exchange Exchange, cfg ExecutorConfig) *Executor {
	cfg.applyDefaults()
	return &Executor{exchange: exchange, cfg: cfg}
}

// Config effective configuration (defaults applied)
func (e *Executor) Config() ExecutorConfig {
	return e.cfg
}

// Exchange underlying exchange
func (e *Executor) Exchange() Exchange {
	return e.exchange
}

// Execute runs price -> size -> leverage -> primary IOC -> TP/SL for one intent.
// Leverage and TP/SL failures are recorded as warnings on the report; price and primary order
// failures are returned as *ExecError. Order submission is never retried.
func (e *Executor) Execute(ctx context.Context, intent decision.TradeIntent) (*ExecutionReport, error) {
	if intent.IsWait() {
		return nil, newExecError(KindInvalidIntent, "validate", errors.New("wait intent is not executable"))
	}
	if e.exchange == nil {
		return nil, newExecError(KindConfig, "validate", errors.New("no exchange configured"))
	}

	symbol := e.cfg.Symbol
	isBuy := intent.Direction.IsBuy()
	report := &ExecutionReport{
		Exchange: e.exchange.Name(),
		Symbol:   symbol,
		IsBuy:    isBuy,
	}

	log.Info().Str("exchange", report.Exchange).Str("symbol", symbol).Msg("📈 Executing " + intent.String())

	// 1. reference price
	price, err := e.exchange.GetMarketPrice(ctx, symbol)
	if err != nil {
		return report, newExecError(KindPriceFeed, "get_price", err)
	}
	if !price.IsPositive() {
		return report, newExecError(KindPriceFeed, "get_price", fmt.Errorf("invalid price %s for %s", price, symbol))
	}
	report.ReferencePrice = price

	// 2. size
	size, floored, err := ComputeSize(decimal.NewFromFloat(intent.AllocationUSD), price, e.cfg.SizeDecimals, e.cfg.MinSize)
	if err != nil {
		return report, newExecError(KindInvalidIntent, "size", err)
	}
	report.Size = size
	report.Floored = floored
	if floored {
		log.Warn().Str("size", size.String()).Msg("  ⚠ Computed size below exchange minimum, using minimum size")
	}

	// 3. aggressive limit price
	report.LimitPrice = AggressivePrice(price, isBuy, e.cfg.SlippagePct, e.cfg.TickSize)
	log.Info().
		Str("price", price.String()).
		Str("size", size.String()).
		Str("limit", report.LimitPrice.String()).
		Msg("  ✓ Order sized")

	// 4. leverage, best-effort
	if lev := EffectiveLeverage(intent.Leverage, e.cfg.MaxLeverage); lev > 0 {
		if err := e.exchange.SetLeverage(ctx, symbol, lev, e.cfg.MarginMode); err != nil {
			w := newExecError(KindLeverage, "set_leverage", err)
			report.Warnings = append(report.Warnings, w)
			log.Warn().Err(err).Int("leverage", lev).Msg("  ⚠ Failed to set leverage, continuing with current leverage")
		} else {
			report.Leverage = lev
			log.Info().Int("leverage", lev).Str("mode", string(e.cfg.MarginMode)).Msg("  ✓ Leverage set")
		}
	}

	// 5. primary IOC order
	primary, err := e.exchange.PlaceOrder(ctx, OrderRequest{
		Symbol:     symbol,
		Kind:       OrderPrimary,
		IsBuy:      isBuy,
		Size:       size,
		LimitPrice: report.LimitPrice,
	})
	if err != nil {
		return report, newExecError(KindPrimaryOrder, "place_order", err)
	}
	primary.Kind = OrderPrimary
	report.Primary = primary
	if primary.Status == StatusError {
		return report, newExecError(KindPrimaryOrder, "place_order", fmt.Errorf("order rejected: %s", primary.Reason))
	}
	log.Info().Str("status", string(primary.Status)).Str("order_id", primary.OrderID).Msg("  ✓ Primary order accepted")

	// 6. protective orders, best-effort
	report.TakeProfit = e.placeProtective(ctx, report, OrderTakeProfit, intent.TakeProfitUSD)
	report.StopLoss = e.placeProtective(ctx, report, OrderStopLoss, intent.StopLossUSD)

	return report, nil
}

func (e *Executor) placeProtective(ctx context.Context, report *ExecutionReport, kind OrderKind, level float64) *OrderResult {
	if level <= 0 {
		return nil
	}
	trigger := RoundToTick(decimal.NewFromFloat(level), e.cfg.TickSize, !report.IsBuy)
	label := strings.ReplaceAll(string(kind), "_", " ")

	res, err := e.exchange.PlaceOrder(ctx, OrderRequest{
		Symbol:       report.Symbol,
		Kind:         kind,
		IsBuy:        !report.IsBuy,
		Size:         report.Size,
		LimitPrice:   trigger,
		TriggerPrice: trigger,
		ReduceOnly:   true,
	})
	if err == nil && res.Status == StatusError {
		err = fmt.Errorf("order rejected: %s", res.Reason)
	}
	if err != nil {
		report.Warnings = append(report.Warnings, newExecError(KindProtectiveOrder, string(kind), err))
		log.Warn().Err(err).Msgf("  ⚠ Failed to set %s (position remains open)", label)
		if res.Status == "" {
			res = OrderResult{Status: StatusError, Reason: err.Error()}
		}
	} else {
		log.Info().Str("trigger", trigger.String()).Msgf("  ✓ %s set", strings.ToUpper(label[:1])+label[1:])
	}
	res.Kind = kind
	return &res
}

// UnavailableExecutor stands in for an exchange that could not be constructed
// (missing credentials, bad key). Every Execute fails with KindConfig so the cycle
// reports the problem and the process keeps running.
type UnavailableExecutor struct {
	Err error
}

func (u UnavailableExecutor) Execute(ctx context.Context, intent decision.TradeIntent) (*ExecutionReport, error) {
	return nil, newExecError(KindConfig, "connect", u.Err)
}
