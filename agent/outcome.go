package agent

import (
	"errors"

	"github.com/etherwave-labs/ai-agent-playground/decision"
	"github.com/etherwave-labs/ai-agent-playground/ledger"
	"github.com/etherwave-labs/ai-agent-playground/trader"
)

// ErrCycleInProgress another cycle holds the orchestrator
var ErrCycleInProgress = errors.New("decision cycle already in progress")

// OutcomeKind terminal state of one decision cycle
type OutcomeKind string

const (
	OutcomeNoSignal              OutcomeKind = "no-signal"
	OutcomeWaitAcknowledged      OutcomeKind = "wait-acknowledged"
	OutcomeTradeCreated          OutcomeKind = "trade-created"
	OutcomeTradeUpdated          OutcomeKind = "trade-updated"
	OutcomeTradeDuplicateSkipped OutcomeKind = "trade-duplicate-skipped"
	OutcomeTradeDeleted          OutcomeKind = "trade-deleted"
	OutcomeDeleteTargetNotFound  OutcomeKind = "delete-target-not-found"
	OutcomeExecutionError        OutcomeKind = "execution-error"
	OutcomeLedgerError           OutcomeKind = "ledger-error"
	OutcomeBusy                  OutcomeKind = "busy"
)

// Failed reports whether the kind ends a cycle in failure
func (k OutcomeKind) Failed() bool {
	switch k {
	case OutcomeExecutionError, OutcomeLedgerError, OutcomeBusy:
		return true
	}
	return false
}

// Outcome the single result of a cycle
type Outcome struct {
	Kind      OutcomeKind             `json:"kind"`
	Message   string                  `json:"message"`
	Intent    *decision.TradeIntent   `json:"intent,omitempty"`
	Delete    *decision.DeleteIntent  `json:"delete,omitempty"`
	Entry     *ledger.Entry           `json:"entry,omitempty"`
	Execution *trader.ExecutionReport `json:"execution,omitempty"`
	Warnings  []string                `json:"warnings,omitempty"`
	Err       error                   `json:"-"`
}

// Reason error text, empty on success
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
