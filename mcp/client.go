package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/httpclient"

	"github.com/rs/zerolog/log"
)

// Provider LLM provider
type Provider string

const (
	ProviderDeepSeek Provider = "deepseek"
	ProviderQwen     Provider = "qwen"
	ProviderGroq     Provider = "groq"
	ProviderOpenAI   Provider = "openai"
	ProviderCustom   Provider = "custom"
)

const (
	defaultTemperature = 0.5
	defaultMaxTokens   = 4000
)

// Client OpenAI-compatible chat completions client
type Client struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	UseFullURL  bool // BaseURL is the complete endpoint, /chat/completions is not appended
	Temperature float64
	MaxTokens   int

	http *httpclient.Client
}

// New returns a client preconfigured for Groq; call one of the Set* methods before use
func New() *Client {
	return &Client{
		Provider:    ProviderGroq,
		BaseURL:     "https://api.groq.com/openai/v1",
		Model:       "llama-3.1-70b-versatile",
		Timeout:     120 * time.Second,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

// SetDeepSeekAPIKey configures DeepSeek
func (c *Client) SetDeepSeekAPIKey(apiKey string) {
	c.Provider = ProviderDeepSeek
	c.APIKey = apiKey
	c.BaseURL = "https://api.deepseek.com/v1"
	c.Model = "deepseek-chat"
	c.http = nil
}

// SetQwenAPIKey configures Alibaba Qwen (compatible mode)
func (c *Client) SetQwenAPIKey(apiKey string) {
	c.Provider = ProviderQwen
	c.APIKey = apiKey
	c.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	c.Model = "qwen-plus"
	c.http = nil
}

// SetOpenAIAPIKey configures OpenAI
func (c *Client) SetOpenAIAPIKey(apiKey, model string) {
	c.Provider = ProviderOpenAI
	c.APIKey = apiKey
	c.BaseURL = "https://api.openai.com/v1"
	c.Model = model
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	c.http = nil
}

// SetGroqAPIKey configures Groq; large models get a longer timeout
func (c *Client) SetGroqAPIKey(apiKey, model string) {
	c.Provider = ProviderGroq
	c.APIKey = apiKey
	c.BaseURL = "https://api.groq.com/openai/v1"
	if model != "" {
		c.Model = model
	}
	if strings.Contains(strings.ToLower(c.Model), "70b") {
		c.Timeout = 180 * time.Second
	} else {
		c.Timeout = 120 * time.Second
	}
	c.http = nil
}

// SetCustomAPI configures any OpenAI-compatible endpoint.
// A trailing '#' on apiURL marks it as the full endpoint URL.
func (c *Client) SetCustomAPI(apiURL, apiKey, model string) {
	c.Provider = ProviderCustom
	c.APIKey = apiKey
	c.UseFullURL = strings.HasSuffix(apiURL, "#")
	c.BaseURL = strings.TrimRight(strings.TrimSuffix(apiURL, "#"), "/")
	c.Model = model
	c.Timeout = 120 * time.Second
	c.http = nil
}

// Configure picks the provider by name; unknown names with a base URL are treated as custom
func (c *Client) Configure(provider, apiKey, model, baseURL string) error {
	switch Provider(strings.ToLower(provider)) {
	case ProviderDeepSeek:
		c.SetDeepSeekAPIKey(apiKey)
	case ProviderQwen:
		c.SetQwenAPIKey(apiKey)
	case ProviderOpenAI:
		c.SetOpenAIAPIKey(apiKey, model)
	case ProviderGroq, "":
		c.SetGroqAPIKey(apiKey, model)
	default:
		if baseURL == "" {
			return fmt.Errorf("unknown llm provider %q and no base url", provider)
		}
		c.SetCustomAPI(baseURL, apiKey, model)
		return nil
	}
	if model != "" {
		c.Model = model
	}
	if baseURL != "" {
		c.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return nil
}

func (c *Client) endpoint() string {
	if c.UseFullURL {
		return c.BaseURL
	}
	return c.BaseURL + "/chat/completions"
}

func (c *Client) client() *httpclient.Client {
	if c.http == nil {
		c.http = httpclient.New(httpclient.Options{
			Timeout:         c.Timeout,
			RequestsPerSec:  1,
			Burst:           2,
			MaxRetries:      4,
			InitialInterval: 5 * time.Second,
			MaxRetryTimeout: 2 * time.Minute,
		})
	}
	return c.http
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// CallWithMessages sends a system + user prompt and returns the first choice's content.
// Transient failures (network, 429, 5xx) are retried by the shared HTTP client.
func (c *Client) CallWithMessages(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("llm api key not set")
	}

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+c.APIKey)

	start := time.Now()
	body, err := c.client().Do(ctx, http.MethodPost, c.endpoint(), payload, header)
	if err != nil {
		return "", fmt.Errorf("%s call failed: %w", c.Provider, err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", c.Provider)
	}

	log.Debug().
		Str("provider", string(c.Provider)).
		Str("model", c.Model).
		Dur("took", time.Since(start)).
		Int("chars", len(result.Choices[0].Message.Content)).
		Msg("🤖 LLM response received")
	return result.Choices[0].Message.Content, nil
}
