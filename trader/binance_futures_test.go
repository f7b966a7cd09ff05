package trader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const btcExchangeInfo = `{"timezone":"UTC","symbols":[{"symbol":"BTCUSDT","pair":"BTCUSDT","status":"TRADING","filters":[
	{"filterType":"PRICE_FILTER","tickSize":"0.10","minPrice":"556.80","maxPrice":"4529764"},
	{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"}
]}]}`

// fakeFutures serves the USDⓈ-M endpoints the trader calls
type fakeFutures struct {
	mu          sync.Mutex
	orderStatus string
	orderCode   int
	orders      []url.Values
}

func (f *fakeFutures) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/fapi/v1/time":
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
		case "/fapi/v1/exchangeInfo":
			_, _ = io.WriteString(w, btcExchangeInfo)
		case "/fapi/v2/ticker/price":
			fmt.Fprintf(w, `{"symbol":%q,"price":"50000.10","time":1}`, r.URL.Query().Get("symbol"))
		case "/fapi/v2/positionRisk":
			_, _ = io.WriteString(w, `[
				{"symbol":"BTCUSDT","positionAmt":"-0.010","entryPrice":"50500.0","leverage":"3"},
				{"symbol":"ETHUSDT","positionAmt":"0.000","entryPrice":"0.0","leverage":"5"}
			]`)
		case "/fapi/v1/order":
			assert.NoError(t, r.ParseForm())
			f.mu.Lock()
			f.orders = append(f.orders, r.PostForm)
			status, code := f.orderStatus, f.orderCode
			f.mu.Unlock()
			if code != 0 {
				w.WriteHeader(code)
				_, _ = io.WriteString(w, `{"code":-2019,"msg":"Margin is insufficient."}`)
				return
			}
			fmt.Fprintf(w, `{"symbol":"BTCUSDT","orderId":4242,"status":%q,"executedQty":"0","type":%q}`, status, r.PostForm.Get("type"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeFutures) lastOrder(t *testing.T) url.Values {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.orders)
	return f.orders[len(f.orders)-1]
}

func newFakeFuturesTrader(t *testing.T, orderStatus string) (*FuturesTrader, *fakeFutures) {
	t.Helper()
	fake := &fakeFutures{orderStatus: orderStatus}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	client := futures.NewClient("key", "secret")
	client.BaseURL = srv.URL
	tr := newFuturesTrader(context.Background(), client, "USDT")
	tr.cooldown = 0
	return tr, fake
}

func TestFuturesPlaceOrderStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		kind   OrderKind
		status string
		want   OrderStatus
		reason string
	}{
		{"primary filled", OrderPrimary, "FILLED", StatusFilled, ""},
		{"primary partially filled", OrderPrimary, "PARTIALLY_FILLED", StatusFilled, ""},
		{"primary expired", OrderPrimary, "EXPIRED", StatusError, "no liquidity at limit price, order expired"},
		{"primary rejected", OrderPrimary, "REJECTED", StatusError, "rejected"},
		{"stop loss accepted", OrderStopLoss, "NEW", StatusResting, ""},
		{"take profit expired", OrderTakeProfit, "EXPIRED", StatusResting, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newFakeFuturesTrader(t, tt.status)

			res, err := tr.PlaceOrder(context.Background(), OrderRequest{
				Symbol:       "BTC",
				Kind:         tt.kind,
				IsBuy:        true,
				Size:         d("0.002"),
				LimitPrice:   d("52500"),
				TriggerPrice: d("48000"),
				ReduceOnly:   tt.kind != OrderPrimary,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, "4242", res.OrderID)
		})
	}
}

func TestFuturesQuantityFollowsLotSize(t *testing.T) {
	tests := []struct {
		size string
		want string
	}{
		{"0.0001", "0.001"}, // below minQty
		{"0.0025", "0.003"}, // rounded up to the step
		{"0.002", "0.002"},
		{"1.23456", "1.235"},
	}

	tr, fake := newFakeFuturesTrader(t, "FILLED")
	for _, tt := range tests {
		_, err := tr.PlaceOrder(context.Background(), OrderRequest{
			Symbol:     "BTC",
			Kind:       OrderPrimary,
			IsBuy:      true,
			Size:       d(tt.size),
			LimitPrice: d("52500.123"),
		})
		require.NoError(t, err)

		form := fake.lastOrder(t)
		assert.Equal(t, tt.want, form.Get("quantity"), "size %s", tt.size)
		assert.Equal(t, "BTCUSDT", form.Get("symbol"))
		assert.Equal(t, "LIMIT", form.Get("type"))
		assert.Equal(t, "IOC", form.Get("timeInForce"))
		assert.Equal(t, "52500.1", form.Get("price"))
	}
}

func TestFuturesProtectiveOrderParams(t *testing.T) {
	tr, fake := newFakeFuturesTrader(t, "NEW")

	_, err := tr.PlaceOrder(context.Background(), OrderRequest{
		Symbol:       "btc",
		Kind:         OrderStopLoss,
		IsBuy:        false,
		Size:         d("0.002"),
		TriggerPrice: d("48000.25"),
		ReduceOnly:   true,
	})
	require.NoError(t, err)

	form := fake.lastOrder(t)
	assert.Equal(t, "STOP_MARKET", form.Get("type"))
	assert.Equal(t, "SELL", form.Get("side"))
	assert.Equal(t, "48000.3", form.Get("stopPrice"))
	assert.Equal(t, "true", form.Get("reduceOnly"))
	assert.Equal(t, "CONTRACT_PRICE", form.Get("workingType"))
}

func TestFuturesPlaceOrderAPIError(t *testing.T) {
	tr, fake := newFakeFuturesTrader(t, "")
	fake.orderCode = http.StatusBadRequest

	_, err := tr.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTC", Kind: OrderPrimary, IsBuy: true, Size: d("0.002"), LimitPrice: d("52500")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Margin is insufficient")
}

func TestFuturesMarketDataAndPositions(t *testing.T) {
	tr, _ := newFakeFuturesTrader(t, "NEW")
	ctx := context.Background()

	price, err := tr.GetMarketPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, price.Equal(d("50000.10")))

	positions, err := tr.GetPositions(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, Position{Symbol: "BTCUSDT", Side: "short", Size: 0.01, EntryPrice: 50500, Leverage: 3}, positions[0])
}

func TestFormatQuantity(t *testing.T) {
	// exchange info unavailable: only the default decimals apply
	p := symbolPrecision{quantity: 3, price: 2}
	qty, err := p.formatQuantity(d("0.0001"))
	require.NoError(t, err)
	assert.Equal(t, "0.001", qty, "never rounds a positive size down to zero")

	p = symbolPrecision{quantity: 0, step: d("1"), minQty: d("1")}
	qty, err = p.formatQuantity(d("0.4"))
	require.NoError(t, err)
	assert.Equal(t, "1", qty)

	_, err = symbolPrecision{quantity: 3}.formatQuantity(d("0"))
	assert.Error(t, err)
}

func TestPrecisionOf(t *testing.T) {
	tests := []struct {
		step string
		want int32
	}{
		{"0.00100000", 3},
		{"0.001", 3},
		{"0.10", 1},
		{"1.00000000", 0},
		{"1", 0},
		{"0.00000001", 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, precisionOf(tt.step), tt.step)
	}
}

func TestFuturesPair(t *testing.T) {
	tr := &FuturesTrader{quoteAsset: "USDT"}
	assert.Equal(t, "BTCUSDT", tr.pair("btc"))
	assert.Equal(t, "ETHUSDT", tr.pair("ETHUSDT"))
}
