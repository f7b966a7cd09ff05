package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/agent"
	"github.com/etherwave-labs/ai-agent-playground/api"
	"github.com/etherwave-labs/ai-agent-playground/config"
	"github.com/etherwave-labs/ai-agent-playground/ledger"
	"github.com/etherwave-labs/ai-agent-playground/logger"
	"github.com/etherwave-labs/ai-agent-playground/manager"
	"github.com/etherwave-labs/ai-agent-playground/market"
	"github.com/etherwave-labs/ai-agent-playground/mcp"
	"github.com/etherwave-labs/ai-agent-playground/trader"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	setupLogging("info")

	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║    🤖 AI Agent Trade Ledger & Executor                     ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	configFile := "config.json"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	log.Info().Str("file", configFile).Msg("📋 Loading configuration")
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("❌ Exited with error")
	}
	fmt.Println()
	log.Info().Msg("👋 Shutdown complete")
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func run(ctx context.Context, cfg *config.Config) error {
	prices := market.NewPriceFeed(cfg.Market.CoinGeckoURL, cfg.Market.APIKey, cfg.Market.CacheTTL)

	var executor agent.Executor
	var positions trader.PositionReader
	exchange, err := buildExchange(ctx, cfg, prices)
	if err != nil {
		// keep serving the ledger; every execution reports the connection failure
		log.Error().Err(err).Str("exchange", cfg.Exchange).Msg("❌ Exchange unavailable, trades will be recorded but not executed")
		executor = trader.UnavailableExecutor{Err: err}
	} else {
		executor = trader.NewExecutor(exchange, executorConfig(cfg))
		if pr, ok := exchange.(trader.PositionReader); ok {
			positions = pr
		}
		log.Info().Str("exchange", exchange.Name()).Str("symbol", cfg.Symbol).Msg("✓ Exchange connected")
	}

	store := ledger.NewStore(cfg.LedgerPath)
	journal := logger.NewCycleLogger(logger.Options{
		Dir:         cfg.Journal.Dir,
		DatabaseURL: cfg.Journal.DatabaseURL,
		Instance:    cfg.Journal.Instance,
		DisableDB:   cfg.Journal.DisableDB,
	})
	defer journal.Close()

	orch := agent.NewOrchestrator(store, executor, agent.Options{
		Policy:          ledger.PersistPolicy{MinSentiment: cfg.MinPersistSentiment},
		HistoryCapacity: cfg.HistorySize,
		DeleteWindow:    cfg.DeleteWindow,
	})
	orch.SetJournal(journal)
	if cfg.ThoughtLog.Enabled {
		orch.SetThoughtLog(logger.NewThoughtLog(cfg.ThoughtLog.Path, true, cfg.ThoughtLog.AgentLogsURL))
		log.Info().Str("path", cfg.ThoughtLog.Path).Msg("✓ Thought log enabled")
	}

	runners := manager.New()
	if cfg.RunnerActive() {
		llm := mcp.New()
		if err := llm.Configure(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL); err != nil {
			return fmt.Errorf("configure llm: %w", err)
		}
		prompt := agent.NewPromptBuilder(cfg.Symbol, cfg.Execution.MaxLeverage, store, prices, positions)
		if err := runners.Add(agent.NewRunner("agent-"+strings.ToLower(cfg.Symbol), orch, llm, prompt, cfg.ScanInterval)); err != nil {
			return err
		}
		log.Info().Str("provider", string(llm.Provider)).Str("model", llm.Model).Dur("interval", cfg.ScanInterval).Msg("✓ Prompt runner configured")
	} else {
		log.Info().Msg("ℹ️  Prompt runner disabled, decisions arrive through POST /api/messages only")
	}

	server := api.NewServer(api.Deps{
		Processor: orch,
		Trades:    store,
		Cycles:    journal,
		Positions: positions,
		Symbol:    cfg.Symbol,
		Exchange:  cfg.Exchange,
	}, cfg.APIServerPort)

	printStartup(cfg)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		runners.StartAll(ctx)
		<-ctx.Done()
		log.Info().Msg("📛 Shutting down...")
		runners.StopAll()
		return nil
	})
	return group.Wait()
}

func buildExchange(ctx context.Context, cfg *config.Config, prices trader.PriceSource) (trader.Exchange, error) {
	switch cfg.Exchange {
	case "hyperliquid":
		t, err := trader.NewHyperliquidTrader(ctx, cfg.Hyperliquid.PrivateKey, cfg.Hyperliquid.WalletAddr, cfg.Hyperliquid.Testnet)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "binance":
		t, err := trader.NewFuturesTrader(ctx, cfg.Binance.APIKey, cfg.Binance.SecretKey, cfg.Binance.QuoteAsset, cfg.Binance.Testnet)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "paper":
		return trader.NewPaperTrader(prices), nil
	}
	return nil, fmt.Errorf("unsupported exchange: %s", cfg.Exchange)
}

func executorConfig(cfg *config.Config) trader.ExecutorConfig {
	e := cfg.Execution
	return trader.ExecutorConfig{
		Symbol:       cfg.Symbol,
		SizeDecimals: int32(e.SizeDecimals),
		MinSize:      decimal.NewFromFloat(e.MinSize),
		SlippagePct:  e.SlippagePct,
		TickSize:     decimal.NewFromFloat(e.TickSize),
		MaxLeverage:  e.MaxLeverage,
		MarginMode:   trader.MarginMode(e.MarginMode),
	}
}

func printStartup(cfg *config.Config) {
	fmt.Println()
	fmt.Println("⚙️  Settings:")
	fmt.Printf("  • Exchange: %s (%s)\n", cfg.Exchange, cfg.Symbol)
	fmt.Printf("  • Ledger: %s\n", cfg.LedgerPath)
	fmt.Printf("  • Persist threshold: %g%% sentiment\n", cfg.MinPersistSentiment)
	fmt.Printf("  • Max leverage: %dx (%s)\n", cfg.Execution.MaxLeverage, cfg.Execution.MarginMode)
	fmt.Printf("  • Delete window: last %d messages\n", cfg.DeleteWindow)
	fmt.Println()
	if cfg.Exchange != "paper" {
		fmt.Println("⚠️  Risk Warning: agent decisions place real orders, test with small allocations!")
		fmt.Println()
	}
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()
}
