package ledger

import "github.com/etherwave-labs/ai-agent-playground/decision"

// PersistPolicy gate applied before an intent reaches the ledger.
// MinSentiment 0 persists every non-wait intent.
type PersistPolicy struct {
	MinSentiment float64
}

// Allows reports whether the intent passes the gate
func (p PersistPolicy) Allows(intent decision.TradeIntent) bool {
	if intent.IsWait() {
		return false
	}
	return p.MinSentiment <= 0 || intent.SentimentPct >= p.MinSentiment
}
