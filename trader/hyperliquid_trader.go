package trader

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sonirico/go-hyperliquid"
)

// HyperliquidTrader Hyperliquid perpetuals backend
type HyperliquidTrader struct {
	exchange   *hyperliquid.Exchange
	walletAddr string
	testnet    bool
}

// NewHyperliquidTrader creates a Hyperliquid backend.
// privateKeyHex is required; walletAddr defaults to the address derived from the key.
func NewHyperliquidTrader(ctx context.Context, privateKeyHex, walletAddr string, testnet bool) (*HyperliquidTrader, error) {
	apiURL := hyperliquid.MainnetAPIURL
	if testnet {
		apiURL = hyperliquid.TestnetAPIURL
	}
	return newHyperliquidTrader(ctx, privateKeyHex, walletAddr, apiURL, testnet)
}

func newHyperliquidTrader(ctx context.Context, privateKeyHex, walletAddr, apiURL string, testnet bool) (*HyperliquidTrader, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, newExecError(KindConfig, "hyperliquid", errors.New("private key not set (HL_PRIVKEY)"))
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, newExecError(KindConfig, "hyperliquid", fmt.Errorf("failed to parse private key: %w", err))
	}

	derived := deriveAddress(privateKey)
	if walletAddr == "" {
		walletAddr = derived
		log.Info().Str("wallet", walletAddr).Msg("✓ Wallet address derived from private key")
	} else if !strings.EqualFold(walletAddr, derived) {
		// agent wallets sign for a different account address
		log.Info().Str("wallet", walletAddr).Str("signer", derived).Msg("✓ Using agent wallet signer")
	}

	exchange, err := connectHyperliquid(ctx, privateKey, apiURL, walletAddr)
	if err != nil {
		return nil, newExecError(KindConfig, "hyperliquid", err)
	}

	log.Info().Bool("testnet", testnet).Msg("✓ Hyperliquid trader initialized")
	return &HyperliquidTrader{
		exchange:   exchange,
		walletAddr: walletAddr,
		testnet:    testnet,
	}, nil
}

// connectHyperliquid loads perp and spot metadata; the client panics when that fetch fails
func connectHyperliquid(ctx context.Context, key *ecdsa.PrivateKey, apiURL, walletAddr string) (exchange *hyperliquid.Exchange, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to load exchange metadata from %s: %v", apiURL, r)
		}
	}()
	exchange = hyperliquid.NewExchange(
		ctx,
		key,
		apiURL,
		nil, // meta fetched by the client
		"",  // no vault
		walletAddr,
		nil, // spot meta fetched by the client
	)
	return exchange, nil
}

func deriveAddress(key *ecdsa.PrivateKey) string {
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return ""
	}
	return crypto.PubkeyToAddress(*pub).Hex()
}

func (t *HyperliquidTrader) Name() string {
	if t.testnet {
		return "hyperliquid-testnet"
	}
	return "hyperliquid"
}

// GetMarketPrice mid price from allMids
func (t *HyperliquidTrader) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	mids, err := t.exchange.Info().AllMids(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get mid prices: %w", err)
	}
	raw, ok := mids[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no mid price for %s", symbol)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid mid price %q for %s: %w", raw, symbol, err)
	}
	return price, nil
}

// SetLeverage updates leverage; Hyperliquid takes the margin mode on the same call
func (t *HyperliquidTrader) SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error {
	_, err := t.exchange.UpdateLeverage(ctx, leverage, symbol, mode == MarginCross)
	if err != nil {
		return fmt.Errorf("failed to update leverage: %w", err)
	}
	return nil
}

// PlaceOrder primary orders go out as IOC limits, protective orders as market triggers.
// Exchange rejections come back as StatusError with the exchange's reason.
func (t *HyperliquidTrader) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	order := hyperliquid.CreateOrderRequest{
		Coin:       req.Symbol,
		IsBuy:      req.IsBuy,
		Size:       req.Size.InexactFloat64(),
		Price:      req.LimitPrice.InexactFloat64(),
		ReduceOnly: req.ReduceOnly,
	}

	switch req.Kind {
	case OrderTakeProfit, OrderStopLoss:
		tpsl := hyperliquid.TakeProfit
		if req.Kind == OrderStopLoss {
			tpsl = hyperliquid.StopLoss
		}
		order.OrderType = hyperliquid.OrderType{
			Trigger: &hyperliquid.TriggerOrderType{
				TriggerPx: req.TriggerPrice.InexactFloat64(),
				IsMarket:  true,
				Tpsl:      tpsl,
			},
		}
	default:
		order.OrderType = hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{
				Tif: hyperliquid.TifIoc,
			},
		}
	}

	// BulkOrders also returns an error for per-order rejections; the status carries the reason
	resp, err := t.exchange.BulkOrders(ctx, []hyperliquid.CreateOrderRequest{order}, nil)
	if resp == nil || len(resp.Data.Statuses) == 0 {
		if err != nil {
			return OrderResult{}, fmt.Errorf("failed to place %s order: %w", req.Kind, err)
		}
		if resp != nil && !resp.Ok {
			return OrderResult{}, fmt.Errorf("failed to place %s order: %s", req.Kind, resp.Err)
		}
		return OrderResult{}, fmt.Errorf("no status returned for %s order", req.Kind)
	}
	return orderResultFromStatus(req.Kind, resp.Data.Statuses[0]), nil
}

func orderResultFromStatus(kind OrderKind, status hyperliquid.OrderStatus) OrderResult {
	result := OrderResult{Kind: kind}
	if raw, err := json.Marshal(status); err == nil {
		result.Raw = string(raw)
	}
	switch {
	case status.Error != nil:
		result.Status = StatusError
		result.Reason = *status.Error
	case status.Filled != nil:
		result.Status = StatusFilled
		result.OrderID = strconv.Itoa(status.Filled.Oid)
	case status.Resting != nil:
		result.Status = StatusResting
		result.OrderID = strconv.FormatInt(status.Resting.Oid, 10)
	default:
		result.Status = StatusResting
	}
	return result
}

// GetPositions open perp positions for symbol ("" for all)
func (t *HyperliquidTrader) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	state, err := t.exchange.Info().UserState(ctx, t.walletAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to get account state: %w", err)
	}

	var out []Position
	for _, ap := range state.AssetPositions {
		p := ap.Position
		if symbol != "" && !strings.EqualFold(p.Coin, symbol) {
			continue
		}
		szi, _ := strconv.ParseFloat(p.Szi, 64)
		if szi == 0 {
			continue
		}
		pos := Position{Symbol: p.Coin, Side: "long", Size: szi, Leverage: p.Leverage.Value}
		if szi < 0 {
			pos.Side = "short"
			pos.Size = -szi
		}
		if p.EntryPx != nil {
			pos.EntryPrice, _ = strconv.ParseFloat(*p.EntryPx, 64)
		}
		out = append(out, pos)
	}
	return out, nil
}
