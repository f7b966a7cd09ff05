package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Summary condensed view of the ledger, rendered into agent prompts
type Summary struct {
	Total      int     `json:"total"`
	Open       int     `json:"open"`
	Last       *Entry  `json:"last,omitempty"`
	OpenTrades []Entry `json:"open_trades"`
}

// Summary summarizes the current ledger content
func (s *Store) Summary() (Summary, error) {
	entries, err := s.LoadAll()
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Total: len(entries), OpenTrades: []Entry{}}
	for _, e := range entries {
		if e.State == StateOpen {
			sum.Open++
			sum.OpenTrades = append(sum.OpenTrades, e)
		}
	}
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		sum.Last = &last
	}
	return sum, nil
}

// Text human readable summary for prompt context
func (sum Summary) Text() string {
	if sum.Total == 0 {
		return "No trades recorded."
	}

	var b strings.Builder
	b.WriteString("Recorded trades:\n")
	fmt.Fprintf(&b, "- Total trades: %d\n", sum.Total)
	fmt.Fprintf(&b, "- Open trades: %d\n", sum.Open)
	for _, e := range sum.OpenTrades {
		fmt.Fprintf(&b, "  • id: %d %s $%g (stop $%g, target $%g, sentiment %g%%)\n",
			e.ID, strings.ToUpper(string(e.Direction)), e.AllocationUSD, e.StopLossUSD, e.TakeProfitUSD, e.SentimentPct)
	}
	if sum.Last != nil {
		fmt.Fprintf(&b, "- Last trade: %s ($%g, Stop: $%g, Target: $%g, Sentiment: %g%%) at %s",
			strings.ToUpper(string(sum.Last.Direction)), sum.Last.AllocationUSD, sum.Last.StopLossUSD,
			sum.Last.TakeProfitUSD, sum.Last.SentimentPct, sum.Last.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}
