package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/trader"

	"github.com/rs/zerolog/log"
)

const systemPrompt = `You are a disciplined crypto perpetuals trader. Analyze the %[1]s market and answer in plain text.
Explain your reasoning first, then end with exactly ONE decision line in one of these strict formats:

sentiment: <0-100>%%, allocation: $<usd>, stoploss: $<price>, takeprofit: $<price>[, prixBTC: $<price>][, leverage: <n>][, id: <trade id>]
id: <trade id>, DELETE

Rules:
- sentiment below 30 opens a short, above 70 opens a long, anything in between means wait.
- allocation is the notional in USD, stoploss and takeprofit are absolute %[1]s prices.
- leverage is optional and capped at %[2]d.
- add id: <trade id> to revise an existing trade instead of opening a new one.
- use "id: <trade id>, DELETE" to cancel a recorded trade you no longer believe in.
- when no opportunity is strong enough, give a sentiment between 30 and 70.`

// PromptBuilder assembles the scheduled trading prompt
type PromptBuilder struct {
	Symbol      string
	MaxLeverage int
	Ledger      Ledger
	Prices      trader.PriceSource    // optional
	Positions   trader.PositionReader // optional
	now         func() time.Time
}

// NewPromptBuilder creates a builder; prices and positions may be nil
func NewPromptBuilder(symbol string, maxLeverage int, l Ledger, prices trader.PriceSource, positions trader.PositionReader) *PromptBuilder {
	if symbol == "" {
		symbol = "BTC"
	}
	if maxLeverage <= 0 {
		maxLeverage = 1
	}
	return &PromptBuilder{
		Symbol:      symbol,
		MaxLeverage: maxLeverage,
		Ledger:      l,
		Prices:      prices,
		Positions:   positions,
		now:         time.Now,
	}
}

// System instructions describing the decision grammar
func (p *PromptBuilder) System() string {
	return fmt.Sprintf(systemPrompt, p.Symbol, p.MaxLeverage)
}

// User market context for this cycle. Context sources that fail are skipped.
func (p *PromptBuilder) User(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Time: %s\n", p.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Analyze the %s market in real time.\n\n", p.Symbol)

	if p.Prices != nil {
		if price, err := p.Prices.Price(ctx, p.Symbol); err != nil {
			log.Warn().Err(err).Msg("⚠ Reference price unavailable for prompt")
		} else {
			fmt.Fprintf(&b, "Reference price: $%.2f\n\n", price)
		}
	}

	if p.Positions != nil {
		positions, err := p.Positions.GetPositions(ctx, p.Symbol)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("⚠ Positions unavailable for prompt")
		case len(positions) == 0:
			fmt.Fprintf(&b, "Open %s position: none\n\n", p.Symbol)
		default:
			for _, pos := range positions {
				fmt.Fprintf(&b, "Open %s position: %s %g @ $%.2f (%dx)\n", pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.Leverage)
			}
			b.WriteString("\n")
		}
	}

	if p.Ledger != nil {
		sum, err := p.Ledger.Summary()
		if err != nil {
			log.Warn().Err(err).Msg("⚠ Ledger summary unavailable for prompt")
		} else {
			b.WriteString(sum.Text())
			b.WriteString("\n\n")
		}
	}

	b.WriteString("Give your analysis, then the single decision line.")
	return b.String()
}
