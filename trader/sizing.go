package trader

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	DefaultSizeDecimals = 5
	DefaultSlippagePct  = 5.0
)

var (
	DefaultMinSize  = decimal.RequireFromString("0.0001")
	DefaultTickSize = decimal.NewFromInt(1)
)

// ComputeSize converts a quote-currency allocation into a base-asset size rounded to decimals.
// Sizes below minSize are clamped up to it; floored reports whether that happened.
func ComputeSize(allocationUSD, price decimal.Decimal, decimals int32, minSize decimal.Decimal) (size decimal.Decimal, floored bool, err error) {
	if !allocationUSD.IsPositive() {
		return decimal.Zero, false, fmt.Errorf("allocation must be positive, got %s", allocationUSD)
	}
	if !price.IsPositive() {
		return decimal.Zero, false, fmt.Errorf("reference price must be positive, got %s", price)
	}

	size = allocationUSD.DivRound(price, decimals+4).Round(decimals)
	if size.LessThan(minSize) {
		return minSize, true, nil
	}
	return size, false, nil
}

// AggressivePrice offsets price by slippagePct so an IOC limit order crosses the book,
// then rounds to tick: up for buys, down for sells.
func AggressivePrice(price decimal.Decimal, isBuy bool, slippagePct float64, tick decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromFloat(slippagePct).Div(decimal.NewFromInt(100))
	if isBuy {
		return RoundToTick(price.Mul(decimal.NewFromInt(1).Add(factor)), tick, true)
	}
	return RoundToTick(price.Mul(decimal.NewFromInt(1).Sub(factor)), tick, false)
}

// RoundToTick rounds price to a multiple of tick (up or down); a non-positive tick leaves it unchanged
func RoundToTick(price, tick decimal.Decimal, up bool) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	steps := price.Div(tick)
	if up {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	return steps.Mul(tick)
}

// EffectiveLeverage floors lev to an integer in [1, maxLeverage]; 0 means "not requested"
func EffectiveLeverage(lev float64, maxLeverage int) int {
	if lev <= 0 {
		return 0
	}
	n := int(lev)
	if n < 1 {
		n = 1
	}
	if maxLeverage > 0 && n > maxLeverage {
		n = maxLeverage
	}
	return n
}
