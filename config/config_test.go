package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, envs := range envBindings {
		for _, env := range envs {
			t.Setenv(env, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Exchange)
	assert.Equal(t, "BTC", cfg.Symbol)
	assert.Equal(t, 5, cfg.Execution.SizeDecimals)
	assert.Equal(t, 0.0001, cfg.Execution.MinSize)
	assert.Equal(t, 5.0, cfg.Execution.SlippagePct)
	assert.Equal(t, "isolated", cfg.Execution.MarginMode)
	assert.Equal(t, time.Minute, cfg.ScanInterval)
	assert.Equal(t, 15*time.Second, cfg.Market.CacheTTL)
	assert.Equal(t, 8080, cfg.APIServerPort)
	assert.Equal(t, "trades.json", cfg.LedgerPath)
	assert.Zero(t, cfg.MinPersistSentiment)
	assert.Equal(t, 3, cfg.DeleteWindow)
	assert.False(t, cfg.ThoughtLog.Enabled)
	assert.False(t, cfg.RunnerActive())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"exchange": "Hyperliquid",
		"symbol": "eth",
		"min_persist_sentiment": 70,
		"execution": {"max_leverage": 5, "margin_mode": "CROSS"},
		"llm": {"provider": "deepseek", "api_key": "from-file"},
		"api_server_port": 8081
	}`), 0644))

	t.Setenv("HL_PRIVKEY", "0xabc")
	t.Setenv("PUBKEY", "0xwallet")
	t.Setenv("LOG_ENABLED", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("SCAN_INTERVAL", "5m")
	t.Setenv("LLM_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hyperliquid", cfg.Exchange)
	assert.Equal(t, "ETH", cfg.Symbol)
	assert.Equal(t, 70.0, cfg.MinPersistSentiment)
	assert.Equal(t, 5, cfg.Execution.MaxLeverage)
	assert.Equal(t, "cross", cfg.Execution.MarginMode)
	assert.Equal(t, "0xabc", cfg.Hyperliquid.PrivateKey)
	assert.Equal(t, "0xwallet", cfg.Hyperliquid.WalletAddr)
	assert.True(t, cfg.ThoughtLog.Enabled)
	assert.Equal(t, 9090, cfg.APIServerPort)
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval)
	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.True(t, cfg.RunnerActive())
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"exchange": `), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Exchange:      "paper",
			APIServerPort: 8080,
			Execution: ExecutionConfig{
				SizeDecimals: 5,
				SlippagePct:  5,
				TickSize:     1,
				MaxLeverage:  10,
				MarginMode:   "isolated",
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown exchange", func(c *Config) { c.Exchange = "aster" }},
		{"sentiment gate above 100", func(c *Config) { c.MinPersistSentiment = 101 }},
		{"negative sentiment gate", func(c *Config) { c.MinPersistSentiment = -1 }},
		{"port out of range", func(c *Config) { c.APIServerPort = 70000 }},
		{"zero size decimals", func(c *Config) { c.Execution.SizeDecimals = 0 }},
		{"size decimals above 8", func(c *Config) { c.Execution.SizeDecimals = 9 }},
		{"zero slippage", func(c *Config) { c.Execution.SlippagePct = 0 }},
		{"zero tick", func(c *Config) { c.Execution.TickSize = 0 }},
		{"zero leverage cap", func(c *Config) { c.Execution.MaxLeverage = 0 }},
		{"bad margin mode", func(c *Config) { c.Execution.MarginMode = "portfolio" }},
		{"delete window beyond history", func(c *Config) { c.HistorySize = 2; c.DeleteWindow = 5 }},
	}

	base := valid()
	require.NoError(t, base.Validate())
	assert.Equal(t, 20, base.HistorySize)
	assert.Equal(t, 3, base.DeleteWindow)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
