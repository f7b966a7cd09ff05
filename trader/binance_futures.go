package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// FuturesTrader Binance USDⓈ-M futures backend (one-way position mode)
type FuturesTrader struct {
	client      *futures.Client
	quoteAsset  string
	cooldown    time.Duration
	precisionMu sync.RWMutex
	precision   map[string]symbolPrecision

	// Multi-Assets Mode detection
	isMultiAssetsMode bool
	multiAssetsMutex  sync.RWMutex

	lastTimeSync  time.Time
	timeSyncMutex sync.Mutex
}

type symbolPrecision struct {
	quantity int32
	price    int32
	step     decimal.Decimal // LOT_SIZE stepSize, zero when unknown
	minQty   decimal.Decimal // LOT_SIZE minQty, zero when unknown
}

// formatQuantity rounds size up to the lot step and raises it to the minimum quantity
func (p symbolPrecision) formatQuantity(size decimal.Decimal) (string, error) {
	if p.step.IsPositive() {
		size = size.Div(p.step).Ceil().Mul(p.step)
	}
	if p.minQty.IsPositive() && size.LessThan(p.minQty) {
		size = p.minQty
	}
	qty := size.RoundCeil(p.quantity)
	if !qty.IsPositive() {
		return "", fmt.Errorf("quantity %s rounds to zero at %d decimals", size.String(), p.quantity)
	}
	return qty.StringFixed(p.quantity), nil
}

// NewFuturesTrader creates a futures backend. Coins are traded against quoteAsset (default USDT).
func NewFuturesTrader(ctx context.Context, apiKey, secretKey, quoteAsset string, testnet bool) (*FuturesTrader, error) {
	if apiKey == "" || secretKey == "" {
		return nil, newExecError(KindConfig, "binance", errors.New("binance api key and secret are required"))
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	futures.UseTestnet = testnet

	return newFuturesTrader(ctx, futures.NewClient(apiKey, secretKey), quoteAsset), nil
}

func newFuturesTrader(ctx context.Context, client *futures.Client, quoteAsset string) *FuturesTrader {
	syncServerTime(ctx, client)
	return &FuturesTrader{
		client:     client,
		quoteAsset: quoteAsset,
		cooldown:   2 * time.Second,
		precision:  make(map[string]symbolPrecision),
	}
}

// syncServerTime logs the local clock offset against the Binance server
func syncServerTime(ctx context.Context, client *futures.Client) {
	serverTime, err := client.NewServerTimeService().Do(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  Failed to get Binance server time (will continue without sync)")
		return
	}

	offset := serverTime - time.Now().UnixMilli()
	if offset > 1000 || offset < -1000 {
		log.Warn().Int64("offset_ms", offset).Msg("⚠️  Local clock drifts from Binance server, sync the system clock")
		return
	}
	log.Info().Int64("offset_ms", offset).Msg("✓ Time synchronized with Binance server")
}

func (t *FuturesTrader) reSyncServerTime(ctx context.Context) {
	t.timeSyncMutex.Lock()
	defer t.timeSyncMutex.Unlock()

	// at most once per minute
	if time.Since(t.lastTimeSync) < time.Minute {
		return
	}
	log.Info().Msg("🔄 Re-syncing with Binance server time due to timestamp error...")
	syncServerTime(ctx, t.client)
	t.lastTimeSync = time.Now()
}

func isTimestampError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "-1021") || strings.Contains(msg, "recvWindow") || strings.Contains(msg, "timestamp")
}

func (t *FuturesTrader) Name() string {
	return "binance-futures"
}

func (t *FuturesTrader) pair(symbol string) string {
	symbol = strings.ToUpper(symbol)
	if strings.HasSuffix(symbol, t.quoteAsset) {
		return symbol
	}
	return symbol + t.quoteAsset
}

// GetMarketPrice last traded price
func (t *FuturesTrader) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := t.client.NewListPricesService().Symbol(t.pair(symbol)).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get price: %w", err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("price not found for %s", t.pair(symbol))
	}
	return decimal.NewFromString(prices[0].Price)
}

// SetLeverage sets margin type then leverage
func (t *FuturesTrader) SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error {
	pair := t.pair(symbol)

	marginType := futures.MarginTypeIsolated
	if mode == MarginCross {
		marginType = futures.MarginTypeCrossed
	}
	if err := t.setMarginType(ctx, pair, marginType); err != nil {
		return err
	}

	_, err := t.client.NewChangeLeverageService().
		Symbol(pair).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "No need to change") {
			log.Info().Str("symbol", pair).Int("leverage", leverage).Msg("  ✓ Leverage already set")
			return nil
		}
		return fmt.Errorf("failed to set leverage: %w", err)
	}
	return nil
}

func (t *FuturesTrader) setMarginType(ctx context.Context, pair string, marginType futures.MarginType) error {
	t.multiAssetsMutex.RLock()
	multiAssets := t.isMultiAssetsMode
	t.multiAssetsMutex.RUnlock()
	if multiAssets {
		return nil
	}

	err := t.client.NewChangeMarginTypeService().
		Symbol(pair).
		MarginType(marginType).
		Do(ctx)
	if err == nil {
		log.Info().Str("symbol", pair).Str("margin", string(marginType)).Msg("  ✓ Margin mode switched")
		time.Sleep(t.cooldown)
		return nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "No need to change"):
		return nil
	case strings.Contains(msg, "Multi-Assets mode") || strings.Contains(msg, "-4168") || strings.Contains(msg, "-4050"):
		// Multi-Assets Mode accounts cannot change margin type
		log.Warn().Str("symbol", pair).Msg("  ⚠ Account uses Multi-Assets Mode, skipping margin mode setting")
		t.multiAssetsMutex.Lock()
		t.isMultiAssetsMode = true
		t.multiAssetsMutex.Unlock()
		return nil
	}
	return fmt.Errorf("failed to set margin mode: %w", err)
}

// PlaceOrder LIMIT IOC for the primary order, TAKE_PROFIT_MARKET / STOP_MARKET reduce-only for protection
func (t *FuturesTrader) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	pair := t.pair(req.Symbol)
	prec := t.symbolPrecision(ctx, pair)

	quantity, err := prec.formatQuantity(req.Size)
	if err != nil {
		return OrderResult{}, err
	}
	if quantity != req.Size.StringFixed(prec.quantity) {
		log.Info().Str("symbol", pair).Str("size", req.Size.String()).Str("quantity", quantity).Msg("  ↑ Quantity adjusted to lot size")
	}

	side := futures.SideTypeSell
	if req.IsBuy {
		side = futures.SideTypeBuy
	}

	svc := t.client.NewCreateOrderService().
		Symbol(pair).
		Side(side).
		Quantity(quantity)

	switch req.Kind {
	case OrderTakeProfit, OrderStopLoss:
		orderType := futures.OrderTypeTakeProfitMarket
		if req.Kind == OrderStopLoss {
			orderType = futures.OrderTypeStopMarket
		}
		svc = svc.Type(orderType).
			StopPrice(req.TriggerPrice.StringFixed(prec.price)).
			WorkingType(futures.WorkingTypeContractPrice).
			ReduceOnly(true)
	default:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeIOC).
			Price(req.LimitPrice.StringFixed(prec.price)).
			ReduceOnly(req.ReduceOnly)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		if isTimestampError(err) {
			// orders are not resubmitted; fix the clock for the next cycle
			t.reSyncServerTime(ctx)
		}
		return OrderResult{}, err
	}

	result := OrderResult{
		Kind:    req.Kind,
		OrderID: strconv.FormatInt(order.OrderID, 10),
	}
	if raw, err := json.Marshal(order); err == nil {
		result.Raw = string(raw)
	}
	switch order.Status {
	case futures.OrderStatusTypeFilled, futures.OrderStatusTypePartiallyFilled:
		result.Status = StatusFilled
	case futures.OrderStatusTypeRejected:
		result.Status = StatusError
		result.Reason = "rejected"
	case futures.OrderStatusTypeExpired, futures.OrderStatusTypeCanceled:
		if req.Kind == OrderPrimary {
			// IOC with nothing filled
			result.Status = StatusError
			result.Reason = "no liquidity at limit price, order " + strings.ToLower(string(order.Status))
		} else {
			result.Status = StatusResting
		}
	default:
		result.Status = StatusResting
	}
	return result, nil
}

// GetPositions non-zero position risk entries
func (t *FuturesTrader) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	svc := t.client.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(t.pair(symbol))
	}
	positions, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	var out []Position
	for _, p := range positions {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		pos := Position{Symbol: p.Symbol, Side: "long", Size: amt}
		if amt < 0 {
			pos.Side = "short"
			pos.Size = -amt
		}
		pos.EntryPrice, _ = strconv.ParseFloat(p.EntryPrice, 64)
		lev, _ := strconv.Atoi(p.Leverage)
		pos.Leverage = lev
		out = append(out, pos)
	}
	return out, nil
}

// symbolPrecision quantity rules and price decimals from LOT_SIZE / PRICE_FILTER, cached per pair
func (t *FuturesTrader) symbolPrecision(ctx context.Context, pair string) symbolPrecision {
	t.precisionMu.RLock()
	p, ok := t.precision[pair]
	t.precisionMu.RUnlock()
	if ok {
		return p
	}

	p = symbolPrecision{quantity: 3, price: 2}
	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		log.Warn().Err(err).Str("symbol", pair).Msg("  ⚠ Failed to load exchange info, using default precision")
		return p
	}
	for _, s := range info.Symbols {
		if s.Symbol != pair {
			continue
		}
		for _, filter := range s.Filters {
			switch filter["filterType"] {
			case "LOT_SIZE":
				if step, ok := filter["stepSize"].(string); ok {
					p.quantity = precisionOf(step)
					p.step, _ = decimal.NewFromString(step)
				}
				if minQty, ok := filter["minQty"].(string); ok {
					p.minQty, _ = decimal.NewFromString(minQty)
				}
			case "PRICE_FILTER":
				if tick, ok := filter["tickSize"].(string); ok {
					p.price = precisionOf(tick)
				}
			}
		}
	}

	t.precisionMu.Lock()
	t.precision[pair] = p
	t.precisionMu.Unlock()
	return p
}

// precisionOf number of significant decimals in a step such as "0.00100000"
func precisionOf(step string) int32 {
	if !strings.Contains(step, ".") {
		return 0
	}
	step = strings.TrimRight(step, "0")
	return int32(len(step) - strings.IndexByte(step, '.') - 1)
}
