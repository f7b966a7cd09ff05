package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// HyperliquidConfig Hyperliquid credentials
type HyperliquidConfig struct {
	PrivateKey string `mapstructure:"private_key"` // hex, with or without 0x
	WalletAddr string `mapstructure:"wallet_addr"` // derived from the key when empty
	Testnet    bool   `mapstructure:"testnet"`
}

// BinanceConfig Binance USDⓈ-M futures credentials
type BinanceConfig struct {
	APIKey     string `mapstructure:"api_key"`
	SecretKey  string `mapstructure:"secret_key"`
	QuoteAsset string `mapstructure:"quote_asset"`
	Testnet    bool   `mapstructure:"testnet"`
}

// ExecutionConfig order sizing and leverage
type ExecutionConfig struct {
	SizeDecimals int     `mapstructure:"size_decimals"`
	MinSize      float64 `mapstructure:"min_size"`
	SlippagePct  float64 `mapstructure:"slippage_pct"`
	TickSize     float64 `mapstructure:"tick_size"`
	MaxLeverage  int     `mapstructure:"max_leverage"`
	MarginMode   string  `mapstructure:"margin_mode"` // isolated or cross
}

// LLMConfig model used by the scheduled prompt runner
type LLMConfig struct {
	Provider string `mapstructure:"provider"` // groq, deepseek, qwen, openai or custom
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
}

// JournalConfig cycle journal storage
type JournalConfig struct {
	Dir         string `mapstructure:"dir"`
	DatabaseURL string `mapstructure:"database_url"` // PostgreSQL; SQLite under Dir when empty
	Instance    string `mapstructure:"instance"`
	DisableDB   bool   `mapstructure:"disable_db"`
}

// ThoughtLogConfig agent thought log (log-agent.json)
type ThoughtLogConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Path         string `mapstructure:"path"`
	AgentLogsURL string `mapstructure:"agent_logs_url"`
}

// MarketConfig reference price feed
type MarketConfig struct {
	CoinGeckoURL string        `mapstructure:"coingecko_url"`
	APIKey       string        `mapstructure:"api_key"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// Config main configuration
type Config struct {
	Exchange string `mapstructure:"exchange"` // hyperliquid, binance or paper
	Symbol   string `mapstructure:"symbol"`

	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Binance     BinanceConfig     `mapstructure:"binance"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Journal     JournalConfig     `mapstructure:"journal"`
	ThoughtLog  ThoughtLogConfig  `mapstructure:"thought_log"`
	Market      MarketConfig      `mapstructure:"market"`

	LedgerPath          string        `mapstructure:"ledger_path"`
	MinPersistSentiment float64       `mapstructure:"min_persist_sentiment"` // 0 persists every non-wait intent
	HistorySize         int           `mapstructure:"history_size"`
	DeleteWindow        int           `mapstructure:"delete_window"`
	ScanInterval        time.Duration `mapstructure:"scan_interval"`
	RunnerEnabled       bool          `mapstructure:"runner_enabled"`
	APIServerPort       int           `mapstructure:"api_server_port"`
	LogLevel            string        `mapstructure:"log_level"`
}

// envBindings config key -> environment variables, first set wins
var envBindings = map[string][]string{
	"exchange":                   {"EXCHANGE"},
	"symbol":                     {"SYMBOL"},
	"hyperliquid.private_key":    {"HL_PRIVKEY"},
	"hyperliquid.wallet_addr":    {"PUBKEY"},
	"hyperliquid.testnet":        {"HL_TESTNET"},
	"binance.api_key":            {"BINANCE_API_KEY"},
	"binance.secret_key":         {"BINANCE_SECRET_KEY"},
	"llm.provider":               {"LLM_PROVIDER"},
	"llm.api_key":                {"LLM_API_KEY"},
	"llm.model":                  {"LLM_MODEL"},
	"llm.base_url":               {"LLM_BASE_URL"},
	"journal.database_url":       {"DATABASE_URL"},
	"thought_log.enabled":        {"LOG_ENABLED"},
	"thought_log.agent_logs_url": {"AGENT_LOGS_URL"},
	"market.api_key":             {"COINGECKO_API_KEY"},
	"ledger_path":                {"LEDGER_PATH"},
	"min_persist_sentiment":      {"MIN_PERSIST_SENTIMENT"},
	"api_server_port":            {"PORT", "API_SERVER_PORT"},
	"log_level":                  {"LOG_LEVEL"},
	"scan_interval":              {"SCAN_INTERVAL"},
	"execution.max_leverage":     {"MAX_LEVERAGE"},
	"execution.margin_mode":      {"MARGIN_MODE"},
	"thought_log.path":           {"THOUGHT_LOG_PATH"},
	"journal.dir":                {"JOURNAL_DIR"},
	"runner_enabled":             {"RUNNER_ENABLED"},
	"execution.slippage_pct":     {"SLIPPAGE_PCT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange", "paper")
	v.SetDefault("symbol", "BTC")
	v.SetDefault("binance.quote_asset", "USDT")
	v.SetDefault("execution.size_decimals", 5)
	v.SetDefault("execution.min_size", 0.0001)
	v.SetDefault("execution.slippage_pct", 5.0)
	v.SetDefault("execution.tick_size", 1.0)
	v.SetDefault("execution.max_leverage", 10)
	v.SetDefault("execution.margin_mode", "isolated")
	v.SetDefault("llm.provider", "groq")
	v.SetDefault("journal.dir", "cycle_logs")
	v.SetDefault("journal.instance", "default")
	v.SetDefault("thought_log.path", "log-agent.json")
	v.SetDefault("market.cache_ttl", "15s")
	v.SetDefault("ledger_path", "trades.json")
	v.SetDefault("history_size", 20)
	v.SetDefault("delete_window", 3)
	v.SetDefault("scan_interval", "1m")
	v.SetDefault("runner_enabled", true)
	v.SetDefault("api_server_port", 8080)
	v.SetDefault("log_level", "info")
}

// Load reads .env, the JSON config file at path (optional) and environment overrides
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("✓ Loaded .env")
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Info().Str("path", path).Msg("✓ Config file loaded")
		} else if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("⚠ Config file not found, using defaults and environment")
		} else {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate normalizes values and rejects invalid ones.
// Credentials are checked where they are used, by the exchange constructors.
func (c *Config) Validate() error {
	c.Exchange = strings.ToLower(strings.TrimSpace(c.Exchange))
	if c.Exchange == "" {
		c.Exchange = "paper"
	}
	switch c.Exchange {
	case "hyperliquid", "binance", "paper":
	default:
		return fmt.Errorf("exchange must be 'hyperliquid', 'binance' or 'paper', got '%s'", c.Exchange)
	}

	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Symbol == "" {
		c.Symbol = "BTC"
	}

	if c.MinPersistSentiment < 0 || c.MinPersistSentiment > 100 {
		return fmt.Errorf("min_persist_sentiment must be within [0,100], got %g", c.MinPersistSentiment)
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Minute
	}
	if c.APIServerPort <= 0 || c.APIServerPort > 65535 {
		return fmt.Errorf("api_server_port must be within 1-65535, got %d", c.APIServerPort)
	}

	e := &c.Execution
	if e.SizeDecimals < 1 || e.SizeDecimals > 8 {
		return fmt.Errorf("execution.size_decimals must be within 1-8, got %d", e.SizeDecimals)
	}
	if e.MinSize < 0 {
		return fmt.Errorf("execution.min_size cannot be negative")
	}
	if e.SlippagePct <= 0 || e.SlippagePct >= 50 {
		return fmt.Errorf("execution.slippage_pct must be within (0,50), got %g", e.SlippagePct)
	}
	if e.TickSize <= 0 {
		return fmt.Errorf("execution.tick_size must be greater than 0")
	}
	if e.MaxLeverage < 1 {
		return fmt.Errorf("execution.max_leverage must be at least 1")
	}
	if e.MaxLeverage > 50 {
		log.Warn().Int("max_leverage", e.MaxLeverage).Msg("⚠️  Max leverage above 50x, the exchange may refuse it")
	}
	e.MarginMode = strings.ToLower(e.MarginMode)
	if e.MarginMode != "isolated" && e.MarginMode != "cross" {
		return fmt.Errorf("execution.margin_mode must be 'isolated' or 'cross', got '%s'", e.MarginMode)
	}

	if c.HistorySize <= 0 {
		c.HistorySize = 20
	}
	if c.DeleteWindow <= 0 {
		c.DeleteWindow = 3
	}
	if c.DeleteWindow > c.HistorySize {
		return fmt.Errorf("delete_window (%d) cannot exceed history_size (%d)", c.DeleteWindow, c.HistorySize)
	}
	return nil
}

// RunnerActive reports whether the scheduled prompt runner should start
func (c *Config) RunnerActive() bool {
	return c.RunnerEnabled && c.LLM.APIKey != ""
}
