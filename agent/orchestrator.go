package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/decision"
	"github.com/etherwave-labs/ai-agent-playground/ledger"
	"github.com/etherwave-labs/ai-agent-playground/logger"
	"github.com/etherwave-labs/ai-agent-playground/metrics"
	"github.com/etherwave-labs/ai-agent-playground/trader"

	"github.com/rs/zerolog/log"
)

// Ledger trade ledger operations used by a cycle
type Ledger interface {
	Upsert(intent decision.TradeIntent) (ledger.UpsertResult, error)
	Remove(id int64) (bool, error)
	IDs() ([]int64, error)
	Summary() (ledger.Summary, error)
}

// Executor places orders for a freshly recorded trade
type Executor interface {
	Execute(ctx context.Context, intent decision.TradeIntent) (*trader.ExecutionReport, error)
}

// Journal stores one record per cycle
type Journal interface {
	LogCycle(ctx context.Context, record *logger.CycleRecord) error
}

// ThoughtRecorder receives the reasoning and outcome message of each cycle
type ThoughtRecorder interface {
	Record(ctx context.Context, thoughts, message string) (*logger.ThoughtEntry, error)
}

// Options orchestrator settings; zero values take defaults
type Options struct {
	Policy          ledger.PersistPolicy
	HistoryCapacity int
	DeleteWindow    int
}

// Orchestrator runs parse -> reconcile -> execute, one cycle at a time
type Orchestrator struct {
	ledger       Ledger
	executor     Executor
	journal      Journal
	thoughts     ThoughtRecorder
	history      *decision.History
	policy       ledger.PersistPolicy
	deleteWindow int

	mu sync.Mutex // held for the whole cycle
}

// NewOrchestrator creates an orchestrator; journal and thought log are optional
func NewOrchestrator(l Ledger, executor Executor, opts Options) *Orchestrator {
	if opts.DeleteWindow <= 0 {
		opts.DeleteWindow = decision.DefaultDeleteWindow
	}
	return &Orchestrator{
		ledger:       l,
		executor:     executor,
		history:      decision.NewHistory(opts.HistoryCapacity),
		policy:       opts.Policy,
		deleteWindow: opts.DeleteWindow,
	}
}

// SetJournal attaches the cycle journal
func (o *Orchestrator) SetJournal(j Journal) {
	o.journal = j
}

// SetThoughtLog attaches the thought log
func (o *Orchestrator) SetThoughtLog(t ThoughtRecorder) {
	o.thoughts = t
}

// History recent texts seen by the orchestrator
func (o *Orchestrator) History() *decision.History {
	return o.history
}

type sourceKey struct{}

// WithSource tags ctx with the origin of the text (api, runner, cli) for the journal
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "api"
}

// Process runs one decision cycle over text and returns its outcome.
// A call made while another cycle runs returns OutcomeBusy immediately.
func (o *Orchestrator) Process(ctx context.Context, text string) Outcome {
	if !o.mu.TryLock() {
		metrics.ObserveBusy()
		log.Warn().Msg("⚠ Decision cycle already running, message rejected")
		return Outcome{
			Kind:    OutcomeBusy,
			Message: "A decision cycle is already running, try again later",
			Err:     ErrCycleInProgress,
		}
	}
	defer o.mu.Unlock()

	start := time.Now()
	out := o.run(ctx, text)
	elapsed := time.Since(start)

	metrics.ObserveCycle(string(out.Kind), elapsed)
	if out.Kind.Failed() {
		log.Error().Err(out.Err).Str("outcome", string(out.Kind)).Msg("❌ " + out.Message)
	} else {
		log.Info().Str("outcome", string(out.Kind)).Dur("took", elapsed).Msg("✓ " + out.Message)
	}
	for _, w := range out.Warnings {
		log.Warn().Msg("⚠ " + w)
	}

	o.record(ctx, text, out, elapsed)
	return out
}

func (o *Orchestrator) run(ctx context.Context, text string) Outcome {
	// fallback is the entry before this text
	fallback := o.history.Latest()
	o.history.Push(text)

	if decision.HasDeleteCommand(text) {
		return o.runDelete()
	}

	intent := decision.ParseTrade(text, fallback)
	if intent == nil {
		return Outcome{Kind: OutcomeNoSignal, Message: "No actionable trade signal found"}
	}
	if intent.StatedDirection != "" && intent.StatedDirection != intent.Direction {
		log.Warn().
			Str("stated", string(intent.StatedDirection)).
			Str("derived", string(intent.Direction)).
			Float64("sentiment", intent.SentimentPct).
			Msg("⚠ Stated direction disagrees with sentiment, using sentiment")
	}
	if intent.IsWait() {
		return Outcome{
			Kind:    OutcomeWaitAcknowledged,
			Message: fmt.Sprintf("Waiting: sentiment %g%% is not decisive, no trade placed", intent.SentimentPct),
			Intent:  intent,
		}
	}
	if !o.policy.Allows(*intent) {
		return Outcome{
			Kind:    OutcomeNoSignal,
			Message: fmt.Sprintf("Sentiment %g%% is below the persistence threshold of %g%%", intent.SentimentPct, o.policy.MinSentiment),
			Intent:  intent,
		}
	}

	res, err := o.ledger.Upsert(*intent)
	if err != nil {
		return Outcome{Kind: OutcomeLedgerError, Message: "Failed to record trade", Intent: intent, Err: err}
	}
	entry := res.Entry
	o.refreshOpenTrades()

	switch res.Action {
	case ledger.ActionUpdated:
		return Outcome{
			Kind:    OutcomeTradeUpdated,
			Message: fmt.Sprintf("Trade %d updated: %s", entry.ID, intent),
			Intent:  intent,
			Entry:   &entry,
		}
	case ledger.ActionDuplicate:
		return Outcome{
			Kind:    OutcomeTradeDuplicateSkipped,
			Message: fmt.Sprintf("Trade already recorded as id %d, nothing to do", entry.ID),
			Intent:  intent,
			Entry:   &entry,
		}
	}

	report, err := o.executor.Execute(ctx, *intent)
	out := Outcome{Intent: intent, Entry: &entry, Execution: report}
	if report != nil {
		out.Warnings = report.WarningMessages()
		observeReport(report)
	}
	if err != nil {
		out.Kind = OutcomeExecutionError
		out.Err = err
		out.Message = fmt.Sprintf("Trade %d recorded but execution failed: %v", entry.ID, err)
		return out
	}

	out.Kind = OutcomeTradeCreated
	out.Message = createdMessage(entry, report)
	return out
}

func (o *Orchestrator) runDelete() Outcome {
	del, err := decision.ExtractDeleteCommand(o.history.Last(o.deleteWindow), o.ledger)
	if err != nil {
		return Outcome{Kind: OutcomeLedgerError, Message: "Failed to read ledger for delete", Err: err}
	}
	if del == nil {
		return Outcome{Kind: OutcomeDeleteTargetNotFound, Message: "Delete ignored: no matching trade in the ledger"}
	}

	removed, err := o.ledger.Remove(del.TargetID)
	if err != nil {
		return Outcome{Kind: OutcomeLedgerError, Message: fmt.Sprintf("Failed to delete trade %d", del.TargetID), Delete: del, Err: err}
	}
	if !removed {
		return Outcome{
			Kind:    OutcomeDeleteTargetNotFound,
			Message: fmt.Sprintf("Delete ignored: trade %d not found", del.TargetID),
			Delete:  del,
		}
	}
	o.refreshOpenTrades()
	return Outcome{Kind: OutcomeTradeDeleted, Message: fmt.Sprintf("Trade %d deleted", del.TargetID), Delete: del}
}

func (o *Orchestrator) refreshOpenTrades() {
	sum, err := o.ledger.Summary()
	if err != nil {
		return
	}
	metrics.SetOpenTrades(sum.Open)
}

func observeReport(report *trader.ExecutionReport) {
	metrics.ObserveOrder(string(report.Primary.Kind), string(report.Primary.Status))
	for _, r := range []*trader.OrderResult{report.TakeProfit, report.StopLoss} {
		if r != nil {
			metrics.ObserveOrder(string(r.Kind), string(r.Status))
		}
	}
	for _, w := range report.Warnings {
		metrics.ObserveWarning(string(w.Kind))
	}
}

func createdMessage(entry ledger.Entry, report *trader.ExecutionReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trade %d created: %s $%g", entry.ID, strings.ToUpper(string(entry.Direction)), entry.AllocationUSD)
	if report == nil {
		return b.String()
	}
	side := "sell"
	if report.IsBuy {
		side = "buy"
	}
	fmt.Fprintf(&b, " -> %s %s %s @ %s on %s (%s)",
		side, report.Size.String(), report.Symbol, report.LimitPrice.String(), report.Exchange, report.Primary.Status)
	if report.Floored {
		b.WriteString(", size raised to exchange minimum")
	}
	if report.Leverage > 0 {
		fmt.Fprintf(&b, ", leverage %dx", report.Leverage)
	}
	return b.String()
}

// record journals the cycle and appends to the thought log; failures are logged only
func (o *Orchestrator) record(ctx context.Context, text string, out Outcome, elapsed time.Duration) {
	if o.journal != nil {
		rec := &logger.CycleRecord{
			Source:       sourceFrom(ctx),
			InputText:    text,
			Outcome:      string(out.Kind),
			Message:      out.Message,
			Warnings:     out.Warnings,
			Success:      !out.Kind.Failed(),
			ErrorMessage: out.Reason(),
			DurationMs:   elapsed.Milliseconds(),
		}
		if out.Intent != nil {
			if data, err := json.Marshal(out.Intent); err == nil {
				rec.IntentJSON = string(data)
			}
		}
		if out.Entry != nil {
			rec.EntryID = out.Entry.ID
		} else if out.Delete != nil {
			rec.EntryID = out.Delete.TargetID
		}
		if out.Execution != nil {
			if data, err := json.Marshal(out.Execution); err == nil {
				rec.ExecutionJSON = string(data)
			}
		}
		if err := o.journal.LogCycle(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("⚠ Failed to journal cycle")
		}
	}

	if o.thoughts != nil {
		if _, err := o.thoughts.Record(ctx, decision.Reasoning(text), out.Message); err != nil {
			log.Warn().Err(err).Msg("⚠ Failed to append thought log")
		}
	}
}
