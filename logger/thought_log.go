package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/httpclient"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// NotAvailable placeholder for fields that could not be extracted
const NotAvailable = "N/A"

// ThoughtEntry one line of the agent thought log
type ThoughtEntry struct {
	Date     string `json:"date"`
	Thoughts string `json:"thoughts"`
	Message  string `json:"message"`
}

// ThoughtLog append-only JSON array of agent thoughts (log-agent.json)
type ThoughtLog struct {
	path    string
	enabled bool
	logsURL string // agent framework logs endpoint; empty records the cycle's own text
	client  *httpclient.Client
	now     func() time.Time
	mu      sync.Mutex
}

// NewThoughtLog creates the log; a disabled log accepts and drops every append
func NewThoughtLog(path string, enabled bool, logsURL string) *ThoughtLog {
	if path == "" {
		path = "log-agent.json"
	}
	return &ThoughtLog{
		path:    path,
		enabled: enabled,
		logsURL: logsURL,
		client:  httpclient.New(httpclient.Options{Timeout: 15 * time.Second}),
		now:     time.Now,
	}
}

// Enabled reports whether appends are persisted
func (t *ThoughtLog) Enabled() bool {
	return t != nil && t.enabled
}

// Path log file path
func (t *ThoughtLog) Path() string {
	return t.path
}

// Record appends one entry. With a logs endpoint configured the latest thought/message
// are fetched from it; otherwise thoughts and message are used as given.
func (t *ThoughtLog) Record(ctx context.Context, thoughts, message string) (*ThoughtEntry, error) {
	if !t.Enabled() {
		return nil, nil
	}

	if t.logsURL != "" {
		fetched, err := t.fetch(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️  Failed to fetch agent logs, recording local reasoning")
		} else {
			thoughts, message = fetched.Thoughts, fetched.Message
		}
	}

	entry := ThoughtEntry{
		Date:     t.now().UTC().Format(time.RFC3339Nano),
		Thoughts: orNotAvailable(thoughts),
		Message:  orNotAvailable(message),
	}
	if err := t.append(entry); err != nil {
		return nil, err
	}
	log.Debug().
		Bool("thoughts", entry.Thoughts != NotAvailable).
		Bool("message", entry.Message != NotAvailable).
		Msg("📝 Thoughts saved to " + filepath.Base(t.path))
	return &entry, nil
}

// fetch reads data.0.body.response.{thought,message} from the logs endpoint
func (t *ThoughtLog) fetch(ctx context.Context) (ThoughtEntry, error) {
	body, err := t.client.Get(ctx, t.logsURL)
	if err != nil {
		return ThoughtEntry{}, err
	}
	if !gjson.ValidBytes(body) {
		return ThoughtEntry{}, fmt.Errorf("agent logs response is not JSON")
	}
	return ThoughtEntry{
		Thoughts: gjson.GetBytes(body, "data.0.body.response.thought").String(),
		Message:  gjson.GetBytes(body, "data.0.body.response.message").String(),
	}, nil
}

func (t *ThoughtLog) append(entry ThoughtEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.readLocked()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write thought log: %w", err)
	}
	return nil
}

// Entries every recorded entry, oldest first
func (t *ThoughtLog) Entries() ([]ThoughtEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readLocked()
}

func (t *ThoughtLog) readLocked() ([]ThoughtEntry, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []ThoughtEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read thought log: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []ThoughtEntry{}, nil
	}
	var entries []ThoughtEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("path", t.path).Msg("⚠️  Thought log unreadable, starting a new one")
		return []ThoughtEntry{}, nil
	}
	return entries, nil
}

func orNotAvailable(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}
