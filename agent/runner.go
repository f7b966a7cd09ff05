package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// LLM chat completion backend
type LLM interface {
	CallWithMessages(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Runner prompts the LLM every interval and feeds the reply to the orchestrator
type Runner struct {
	name     string
	orch     *Orchestrator
	llm      LLM
	prompt   *PromptBuilder
	interval time.Duration
	cycles   int
}

// NewRunner creates a runner; interval defaults to one minute
func NewRunner(name string, orch *Orchestrator, llm LLM, prompt *PromptBuilder, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if name == "" {
		name = "agent"
	}
	return &Runner{name: name, orch: orch, llm: llm, prompt: prompt, interval: interval}
}

// Name runner display name
func (r *Runner) Name() string {
	return r.name
}

// Run executes one cycle immediately, then one per interval until ctx is done.
// Failed cycles are logged and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().Str("runner", r.name).Dur("interval", r.interval).Msg("🚀 Scheduled prompt runner started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("runner", r.name).Int("cycles", r.cycles).Msg("⏹ Scheduled prompt runner stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	out, err := r.RunOnce(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		log.Error().Err(err).Str("runner", r.name).Msg("❌ Cycle failed, continuing with next interval")
	case err == nil && out.Kind == OutcomeBusy:
		log.Info().Str("runner", r.name).Msg("⏭ Cycle skipped, orchestrator busy")
	}
}

// RunOnce builds the prompt, asks the LLM and processes its reply
func (r *Runner) RunOnce(ctx context.Context) (Outcome, error) {
	r.cycles++
	log.Info().Str("runner", r.name).Int("cycle", r.cycles).Msg("⏰ " + strings.Repeat("=", 20) + " Decision cycle " + strings.Repeat("=", 20))

	reply, err := r.llm.CallWithMessages(ctx, r.prompt.System(), r.prompt.User(ctx))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to get llm decision: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return Outcome{}, errors.New("llm returned an empty reply")
	}

	out := r.orch.Process(WithSource(ctx, "runner"), reply)
	return out, nil
}
