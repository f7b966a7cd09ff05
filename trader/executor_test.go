package trader

import (
	"context"
	"errors"
	"testing"

	"github.com/etherwave-labs/ai-agent-playground/decision"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) Name() string { return "mock" }

func (m *mockExchange) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error {
	return m.Called(ctx, symbol, leverage, mode).Error(0)
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(OrderResult), args.Error(1)
}

func kind(k OrderKind) interface{} {
	return mock.MatchedBy(func(req OrderRequest) bool { return req.Kind == k })
}

func longBTC() decision.TradeIntent {
	return decision.TradeIntent{
		Direction:     decision.DirectionLong,
		AllocationUSD: 100,
		StopLossUSD:   48000,
		TakeProfitUSD: 56000,
		SentimentPct:  85,
		Leverage:      3,
	}
}

func TestExecuteLongHappyPath(t *testing.T) {
	ctx := context.Background()
	ex := new(mockExchange)
	ex.On("GetMarketPrice", ctx, "BTC").Return(d("50000"), nil)
	ex.On("SetLeverage", ctx, "BTC", 3, MarginIsolated).Return(nil)
	ex.On("PlaceOrder", ctx, kind(OrderPrimary)).Return(OrderResult{Status: StatusFilled, OrderID: "1"}, nil)
	ex.On("PlaceOrder", ctx, kind(OrderTakeProfit)).Return(OrderResult{Status: StatusResting, OrderID: "2"}, nil)
	ex.On("PlaceOrder", ctx, kind(OrderStopLoss)).Return(OrderResult{Status: StatusResting, OrderID: "3"}, nil)

	exec := NewExecutor(ex, ExecutorConfig{Symbol: "BTC", MaxLeverage: 10})
	report, err := exec.Execute(ctx, longBTC())
	require.NoError(t, err)

	assert.True(t, report.IsBuy)
	assert.Equal(t, "0.00200", report.Size.StringFixed(5))
	assert.False(t, report.Floored)
	assert.True(t, d("52500").Equal(report.LimitPrice))
	assert.Equal(t, 3, report.Leverage)
	assert.Equal(t, StatusFilled, report.Primary.Status)
	require.NotNil(t, report.TakeProfit)
	require.NotNil(t, report.StopLoss)
	assert.Equal(t, StatusResting, report.TakeProfit.Status)
	assert.Empty(t, report.Warnings)

	var primary, tp, sl OrderRequest
	for _, c := range ex.Calls {
		if c.Method != "PlaceOrder" {
			continue
		}
		req := c.Arguments.Get(1).(OrderRequest)
		switch req.Kind {
		case OrderPrimary:
			primary = req
		case OrderTakeProfit:
			tp = req
		case OrderStopLoss:
			sl = req
		}
	}
	assert.True(t, primary.IsBuy)
	assert.False(t, primary.ReduceOnly)
	for _, protective := range []OrderRequest{tp, sl} {
		assert.False(t, protective.IsBuy)
		assert.True(t, protective.ReduceOnly)
		assert.True(t, primary.Size.Equal(protective.Size))
	}
	assert.True(t, d("56000").Equal(tp.TriggerPrice))
	assert.True(t, d("48000").Equal(sl.TriggerPrice))
	ex.AssertExpectations(t)
}

func TestExecuteShortSellsBelowMarket(t *testing.T) {
	ctx := context.Background()
	ex := new(mockExchange)
	ex.On("GetMarketPrice", ctx, "BTC").Return(d("50000"), nil)
	ex.On("PlaceOrder", ctx, mock.Anything).Return(OrderResult{Status: StatusFilled}, nil)

	intent := decision.TradeIntent{
		Direction:     decision.DirectionShort,
		AllocationUSD: 1,
		StopLossUSD:   52000,
		TakeProfitUSD: 45000,
		SentimentPct:  10,
	}
	report, err := NewExecutor(ex, ExecutorConfig{}).Execute(ctx, intent)
	require.NoError(t, err)

	assert.False(t, report.IsBuy)
	assert.True(t, report.Floored)
	assert.Equal(t, "0.00010", report.Size.StringFixed(5))
	assert.True(t, d("47500").Equal(report.LimitPrice))
	assert.Zero(t, report.Leverage)
	ex.AssertNotCalled(t, "SetLeverage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteLeverageFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	ex := new(mockExchange)
	ex.On("GetMarketPrice", ctx, "BTC").Return(d("50000"), nil)
	ex.On("SetLeverage", ctx, "BTC", 3, MarginIsolated).Return(errors.New("leverage locked"))
	ex.On("PlaceOrder", ctx, mock.Anything).Return(OrderResult{Status: StatusFilled}, nil)

	report, err := NewExecutor(ex, ExecutorConfig{}).Execute(ctx, longBTC())
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, KindLeverage, report.Warnings[0].Kind)
	assert.True(t, report.Warnings[0].Recoverable())
	assert.Zero(t, report.Leverage)
	assert.Equal(t, StatusFilled, report.Primary.Status)
}

func TestExecutePriceFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	ex := new(mockExchange)
	ex.On("GetMarketPrice", ctx, "BTC").Return(decimal.Zero, errors.New("timeout"))

	_, err := NewExecutor(ex, ExecutorConfig{}).Execute(ctx, longBTC())
	require.Error(t, err)
	assert.Equal(t, KindPriceFeed, KindOf(err))
	assert.False(t, IsRecoverable(err))
	ex.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestExecutePrimaryOrderFailures(t *testing.T) {
	tests := []struct {
		name   string
		result OrderResult
		err    error
	}{
		{"transport error", OrderResult{}, errors.New("connection reset")},
		{"rejected status", OrderResult{Status: StatusError, Reason: "insufficient margin"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ex := new(mockExchange)
			ex.On("GetMarketPrice", ctx, "BTC").Return(d("50000"), nil)
			ex.On("SetLeverage", ctx, "BTC", 3, MarginIsolated).Return(nil)
			ex.On("PlaceOrder", ctx, kind(OrderPrimary)).Return(tt.result, tt.err).Once()

			report, err := NewExecutor(ex, ExecutorConfig{}).Execute(ctx, longBTC())
			require.Error(t, err)
			assert.Equal(t, KindPrimaryOrder, KindOf(err))
			require.NotNil(t, report)
			assert.Nil(t, report.TakeProfit)
			assert.Nil(t, report.StopLoss)
			ex.AssertNumberOfCalls(t, "PlaceOrder", 1)
		})
	}
}

func TestExecuteProtectiveFailuresAreWarnings(t *testing.T) {
	ctx := context.Background()
	ex := new(mockExchange)
	ex.On("GetMarketPrice", ctx, "BTC").Return(d("50000"), nil)
	ex.On("SetLeverage", ctx, "BTC", 3, MarginIsolated).Return(nil)
	ex.On("PlaceOrder", ctx, kind(OrderPrimary)).Return(OrderResult{Status: StatusFilled}, nil)
	ex.On("PlaceOrder", ctx, kind(OrderTakeProfit)).Return(OrderResult{}, errors.New("trigger rejected"))
	ex.On("PlaceOrder", ctx, kind(OrderStopLoss)).Return(OrderResult{Status: StatusError, Reason: "bad trigger"}, nil)

	report, err := NewExecutor(ex, ExecutorConfig{}).Execute(ctx, longBTC())
	require.NoError(t, err)
	require.Len(t, report.Warnings, 2)
	for _, w := range report.Warnings {
		assert.Equal(t, KindProtectiveOrder, w.Kind)
	}
	assert.Equal(t, StatusError, report.TakeProfit.Status)
	assert.Equal(t, StatusError, report.StopLoss.Status)
	assert.Len(t, report.WarningMessages(), 2)
}

func TestExecuteRejectsWait(t *testing.T) {
	ex := new(mockExchange)
	intent := longBTC()
	intent.Direction = decision.DirectionWait

	_, err := NewExecutor(ex, ExecutorConfig{}).Execute(context.Background(), intent)
	assert.Equal(t, KindInvalidIntent, KindOf(err))
	ex.AssertNotCalled(t, "GetMarketPrice", mock.Anything, mock.Anything)
}

func TestExecErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(newExecError(KindPrimaryOrder, "place_order", cause))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "primary_order (place_order): boom")
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}

func TestUnavailableExecutor(t *testing.T) {
	_, err := UnavailableExecutor{Err: errors.New("HL_PRIVKEY not set")}.Execute(context.Background(), decision.TradeIntent{Direction: decision.DirectionLong})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.False(t, IsRecoverable(err))
	assert.Contains(t, err.Error(), "HL_PRIVKEY")
}
