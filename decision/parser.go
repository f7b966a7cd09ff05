package decision

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// number accepts integer or decimal values with an optional leading "$" and trailing "%"
func number(name string) string {
	return `\$?\s*(?P<` + name + `>\d+(?:\.\d+)?)\s*%?`
}

const optionalTail = `(?:\s*,\s*prixBTC:\s*\$?\s*(?P<prix>\d+(?:\.\d+)?))?` +
	`(?:\s*,\s*leverage:\s*(?P<leverage>\d+(?:\.\d+)?)\s*x?)?` +
	`(?:\s*,\s*id:\s*(?P<id>\d+))?`

var (
	// trade: long, allocation: $100, stoploss: $50000, takeprofit: $70000, sentiment: 85%
	explicitTradeRegex = regexp.MustCompile(`(?i)\btrade:\s*(?P<trade>long|wait|short)\s*,\s*` +
		`allocation:\s*` + number("allocation") + `\s*,\s*` +
		`stoploss:\s*` + number("stoploss") + `\s*,\s*` +
		`takeprofit:\s*` + number("takeprofit") + `\s*,\s*` +
		`sentiment:\s*` + number("sentiment") +
		optionalTail)

	// sentiment: 85%, allocation: $100, stoploss: $50000, takeprofit: $70000
	sentimentTradeRegex = regexp.MustCompile(`(?i)\bsentiment:\s*` + number("sentiment") + `\s*,\s*` +
		`allocation:\s*` + number("allocation") + `\s*,\s*` +
		`stoploss:\s*` + number("stoploss") + `\s*,\s*` +
		`takeprofit:\s*` + number("takeprofit") +
		optionalTail)

	tradeGrammars = []*regexp.Regexp{explicitTradeRegex, sentimentTradeRegex}
)

type tradeMatch struct {
	start  int
	groups map[string]string
}

// ParseTrade extracts the last well-formed trade statement from current.
// When current holds none, the most recent history entry (fallback) is searched.
// Returns nil when neither text carries a complete trade.
func ParseTrade(current, fallback string) *TradeIntent {
	if intent := lastTrade(current); intent != nil {
		return intent
	}
	if fallback == "" {
		return nil
	}
	intent := lastTrade(fallback)
	if intent != nil {
		log.Debug().Msg("ℹ️  Trade found in history fallback")
	}
	return intent
}

// lastTrade scans text with every grammar and returns the valid match that starts last
func lastTrade(text string) *TradeIntent {
	if text == "" {
		return nil
	}

	var matches []tradeMatch
	for _, re := range tradeGrammars {
		names := re.SubexpNames()
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			groups := make(map[string]string, len(names))
			for i, name := range names {
				if name == "" || loc[2*i] < 0 {
					continue
				}
				groups[name] = text[loc[2*i]:loc[2*i+1]]
			}
			matches = append(matches, tradeMatch{start: loc[0], groups: groups})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	// Restatements supersede earlier statements: walk back from the end
	for i := len(matches) - 1; i >= 0; i-- {
		if intent, ok := buildIntent(matches[i].groups); ok {
			return intent
		}
	}
	return nil
}

func buildIntent(groups map[string]string) (*TradeIntent, bool) {
	allocation, ok := positive(groups["allocation"])
	if !ok {
		return nil, false
	}
	stopLoss, ok := positive(groups["stoploss"])
	if !ok {
		return nil, false
	}
	takeProfit, ok := positive(groups["takeprofit"])
	if !ok {
		return nil, false
	}
	sentiment, err := strconv.ParseFloat(groups["sentiment"], 64)
	if err != nil || sentiment < 0 || sentiment > 100 {
		return nil, false
	}

	intent := &TradeIntent{
		Direction:     DirectionFromSentiment(sentiment),
		AllocationUSD: allocation,
		StopLossUSD:   stopLoss,
		TakeProfitUSD: takeProfit,
		SentimentPct:  sentiment,
	}

	if raw, ok := groups["trade"]; ok {
		stated, err := ParseDirection(raw)
		if err == nil {
			// disagreement with sentiment is reported by the caller
			intent.StatedDirection = stated
		}
	}
	if raw, ok := groups["leverage"]; ok {
		if lev, ok := positive(raw); ok {
			intent.Leverage = lev
		}
	}
	if raw, ok := groups["id"]; ok {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, false
		}
		intent.ReferenceID = id
	}
	if raw, ok := groups["prix"]; ok {
		if px, ok := positive(raw); ok {
			intent.PriceContext = px
		}
	}
	return intent, true
}

func positive(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Reasoning returns the free text preceding the first trade or delete statement,
// trimmed. Text without any statement is returned whole.
func Reasoning(text string) string {
	cut := len(text)
	for _, re := range []*regexp.Regexp{explicitTradeRegex, sentimentTradeRegex, deleteRegex} {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] < cut {
			cut = loc[0]
		}
	}
	return strings.TrimSpace(text[:cut])
}
