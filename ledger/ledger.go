package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/decision"

	"github.com/rs/zerolog/log"
)

// State lifecycle state of a ledger entry
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

var (
	// ErrWaitIntent wait intents carry no executable meaning and are never persisted
	ErrWaitIntent = errors.New("wait intent cannot be persisted")

	ErrLedgerMissing = fmt.Errorf("ledger file does not exist: %w", decision.ErrNoLedger)
	ErrLedgerEmpty   = fmt.Errorf("ledger holds no trades: %w", decision.ErrNoLedger)
	ErrLedgerCorrupt = fmt.Errorf("ledger is not a valid trade list: %w", decision.ErrNoLedger)
)

// Entry persisted trade record. JSON names match the file read by the agent's trade provider.
type Entry struct {
	ID            int64              `json:"id"`
	Direction     decision.Direction `json:"trade"`
	AllocationUSD float64            `json:"allocation"`
	StopLossUSD   float64            `json:"stoploss"`
	TakeProfitUSD float64            `json:"takeprofit"`
	SentimentPct  float64            `json:"sentiment"`
	Leverage      float64            `json:"leverage,omitempty"`
	UpdatedAt     time.Time          `json:"timestamp"` // rewritten on every mutation
	State         State              `json:"state"`
}

// Action ledger mutation performed by Upsert
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDuplicate Action = "duplicate"
)

// UpsertResult outcome of reconciling one intent
type UpsertResult struct {
	Action Action `json:"action"`
	Entry  Entry  `json:"entry"`
}

// Store JSON-file-backed trade ledger.
// The file is the only authority; every operation re-reads it.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore creates a store over path (e.g. "trades.json")
func NewStore(path string) *Store {
	if path == "" {
		path = "trades.json"
	}
	return &Store{path: path, now: time.Now}
}

// SetClock overrides the time source (tests)
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Path ledger file path
func (s *Store) Path() string {
	return s.path
}

// LoadAll returns every entry. A missing or blank file is an empty ledger.
// A corrupt file is copied to a timestamped backup and reset. When the backup
// cannot be written the file is left alone and the error is returned.
func (s *Store) LoadAll() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Entry{}, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("⚠️  Ledger file corrupted, backing up and starting fresh")
		if err := s.recover(data); err != nil {
			return nil, err
		}
		return []Entry{}, nil
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// recover copies the corrupt bytes aside, then resets the ledger to an empty list.
// The ledger is only reset once the backup is on disk.
func (s *Store) recover(corrupt []byte) error {
	backup := s.backupPath()
	if err := os.WriteFile(backup, corrupt, 0644); err != nil {
		log.Error().Err(err).Str("backup", backup).Msg("❌ Failed to back up corrupted ledger")
		return fmt.Errorf("corrupted ledger left in place, backup failed: %w", err)
	}
	log.Info().Str("backup", backup).Msg("📁 Corrupted ledger saved")

	if err := s.write([]Entry{}); err != nil {
		log.Error().Err(err).Msg("❌ Failed to reset corrupted ledger")
		return fmt.Errorf("failed to reset corrupted ledger: %w", err)
	}
	return nil
}

func (s *Store) backupPath() string {
	dir := filepath.Dir(s.path)
	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(filepath.Base(s.path), ext)
	if ext == "" {
		ext = ".json"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_backup_%d%s", base, s.now().UnixMilli(), ext))
}

// write replaces the ledger atomically (temp file + rename); on failure the old file is untouched
func (s *Store) write(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// Upsert reconciles an intent with the ledger:
// update in place when ReferenceID names an existing entry, skip exact duplicates,
// otherwise append a new open entry.
func (s *Store) Upsert(intent decision.TradeIntent) (UpsertResult, error) {
	if intent.IsWait() {
		return UpsertResult{}, ErrWaitIntent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return UpsertResult{}, err
	}
	now := s.now()

	if intent.HasReference() {
		if i := indexOf(entries, intent.ReferenceID); i >= 0 {
			e := &entries[i]
			e.Direction = intent.Direction
			e.AllocationUSD = intent.AllocationUSD
			e.StopLossUSD = intent.StopLossUSD
			e.TakeProfitUSD = intent.TakeProfitUSD
			e.SentimentPct = intent.SentimentPct
			if intent.Leverage > 0 {
				e.Leverage = intent.Leverage
			}
			e.UpdatedAt = laterOf(now, e.UpdatedAt)

			if err := s.write(entries); err != nil {
				return UpsertResult{}, err
			}
			log.Info().Int64("id", e.ID).Msg("✏️  Trade updated in ledger")
			return UpsertResult{Action: ActionUpdated, Entry: *e}, nil
		}
	}

	for _, e := range entries {
		if isDuplicate(e, intent) {
			log.Info().Int64("id", e.ID).Msg("ℹ️  Identical trade already in ledger, skipping save")
			return UpsertResult{Action: ActionDuplicate, Entry: e}, nil
		}
	}

	id := intent.ReferenceID
	if id <= 0 {
		id = now.UnixMilli()
		for indexOf(entries, id) >= 0 {
			id++
		}
	}
	entry := Entry{
		ID:            id,
		Direction:     intent.Direction,
		AllocationUSD: intent.AllocationUSD,
		StopLossUSD:   intent.StopLossUSD,
		TakeProfitUSD: intent.TakeProfitUSD,
		SentimentPct:  intent.SentimentPct,
		Leverage:      intent.Leverage,
		UpdatedAt:     now,
		State:         StateOpen,
	}
	entries = append(entries, entry)
	if err := s.write(entries); err != nil {
		return UpsertResult{}, err
	}

	log.Info().Int64("id", entry.ID).Int("total", len(entries)).Msg("📝 Trade added to ledger")
	return UpsertResult{Action: ActionCreated, Entry: entry}, nil
}

// Remove deletes the entry with id; false when no such entry exists
func (s *Store) Remove(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return false, err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return false, nil
	}

	kept := make([]Entry, 0, len(entries)-1)
	kept = append(kept, entries[:i]...)
	kept = append(kept, entries[i+1:]...)
	if err := s.write(kept); err != nil {
		return false, err
	}
	log.Info().Int64("id", id).Msg("🗑  Trade deleted from ledger")
	return true, nil
}

// Get returns the entry with id
func (s *Store) Get(id int64) (Entry, bool, error) {
	entries, err := s.LoadAll()
	if err != nil {
		return Entry{}, false, err
	}
	if i := indexOf(entries, id); i >= 0 {
		return entries[i], true, nil
	}
	return Entry{}, false, nil
}

// IDs lists current ids without any recovery side effects.
// Errors wrap decision.ErrNoLedger when the ledger is missing, empty or corrupt.
func (s *Store) IDs() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrLedgerMissing
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrLedgerEmpty
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, ErrLedgerCorrupt
	}
	if len(entries) == 0 {
		return nil, ErrLedgerEmpty
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

func indexOf(entries []Entry, id int64) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func isDuplicate(e Entry, intent decision.TradeIntent) bool {
	return strings.EqualFold(string(e.Direction), string(intent.Direction)) &&
		e.AllocationUSD == intent.AllocationUSD &&
		e.StopLossUSD == intent.StopLossUSD &&
		e.TakeProfitUSD == intent.TakeProfitUSD &&
		e.SentimentPct == intent.SentimentPct
}

// laterOf keeps timestamps non-decreasing even if the wall clock steps back
func laterOf(now, prev time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
