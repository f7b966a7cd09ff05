package ledger

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/decision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, time.Time) {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "trades.json"))
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	return s, now
}

func longIntent() decision.TradeIntent {
	return decision.TradeIntent{
		Direction:     decision.DirectionLong,
		AllocationUSD: 100,
		StopLossUSD:   50000,
		TakeProfitUSD: 70000,
		SentimentPct:  85,
	}
}

func TestLoadAllMissingFileIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	entries, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoFileExists(t, s.Path())
}

func TestUpsertCreatesOpenEntry(t *testing.T) {
	s, now := newTestStore(t)

	res, err := s.Upsert(longIntent())
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, now.UnixMilli(), res.Entry.ID)
	assert.Equal(t, StateOpen, res.Entry.State)
	assert.Equal(t, decision.DirectionLong, res.Entry.Direction)

	entries, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.Entry.ID, entries[0].ID)
	assert.Equal(t, 100.0, entries[0].AllocationUSD)
	assert.Equal(t, 50000.0, entries[0].StopLossUSD)
	assert.Equal(t, 70000.0, entries[0].TakeProfitUSD)
	assert.Equal(t, 85.0, entries[0].SentimentPct)
	assert.True(t, now.Equal(entries[0].UpdatedAt))
}

func TestUpsertFileFormat(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Upsert(longIntent())
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	for _, key := range []string{`"id"`, `"trade": "long"`, `"allocation"`, `"stoploss"`, `"takeprofit"`, `"sentiment"`, `"timestamp"`, `"state": "open"`} {
		assert.Contains(t, string(data), key)
	}
	assert.NotContains(t, string(data), `"leverage"`)
}

func TestUpsertDuplicateIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.Upsert(longIntent())
	require.NoError(t, err)
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	second, err := s.Upsert(longIntent())
	require.NoError(t, err)
	assert.Equal(t, ActionDuplicate, second.Action)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	s, now := newTestStore(t)

	created, err := s.Upsert(longIntent())
	require.NoError(t, err)
	other := longIntent()
	other.AllocationUSD = 300
	_, err = s.Upsert(other)
	require.NoError(t, err)

	later := now.Add(time.Minute)
	s.SetClock(func() time.Time { return later })

	update := decision.TradeIntent{
		Direction:     decision.DirectionShort,
		AllocationUSD: 150,
		StopLossUSD:   72000,
		TakeProfitUSD: 60000,
		SentimentPct:  20,
		Leverage:      3,
		ReferenceID:   created.Entry.ID,
	}
	res, err := s.Upsert(update)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, created.Entry.ID, res.Entry.ID)

	entries, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	e := entries[0]
	assert.Equal(t, decision.DirectionShort, e.Direction)
	assert.Equal(t, 150.0, e.AllocationUSD)
	assert.Equal(t, 72000.0, e.StopLossUSD)
	assert.Equal(t, 60000.0, e.TakeProfitUSD)
	assert.Equal(t, 20.0, e.SentimentPct)
	assert.Equal(t, 3.0, e.Leverage)
	assert.True(t, later.Equal(e.UpdatedAt))
}

func TestUpsertUnknownReferenceCreatesWithThatID(t *testing.T) {
	s, _ := newTestStore(t)

	intent := longIntent()
	intent.ReferenceID = 42
	res, err := s.Upsert(intent)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, int64(42), res.Entry.ID)
}

func TestUpsertGeneratedIDsAreUnique(t *testing.T) {
	s, now := newTestStore(t)

	a, err := s.Upsert(longIntent())
	require.NoError(t, err)
	other := longIntent()
	other.SentimentPct = 90
	b, err := s.Upsert(other)
	require.NoError(t, err)

	assert.Equal(t, now.UnixMilli(), a.Entry.ID)
	assert.Equal(t, now.UnixMilli()+1, b.Entry.ID)
}

func TestUpsertRejectsWait(t *testing.T) {
	s, _ := newTestStore(t)

	intent := longIntent()
	intent.Direction = decision.DirectionWait
	_, err := s.Upsert(intent)
	assert.ErrorIs(t, err, ErrWaitIntent)
	assert.NoFileExists(t, s.Path())
}

func TestRemove(t *testing.T) {
	s, _ := newTestStore(t)

	res, err := s.Upsert(longIntent())
	require.NoError(t, err)

	removed, err := s.Remove(999)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.Remove(res.Entry.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	entries, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, found, err := s.Get(res.Entry.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCorruptLedgerIsBackedUpAndReset(t *testing.T) {
	s, now := newTestStore(t)
	corrupt := []byte(`[{"id": 1, "trade": "long",`)
	require.NoError(t, os.WriteFile(s.Path(), corrupt, 0644))

	entries, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)

	dir := filepath.Dir(s.Path())
	backups, err := filepath.Glob(filepath.Join(dir, "trades_backup_*.json"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.True(t, strings.HasSuffix(backups[0], "_"+strconv.FormatInt(now.UnixMilli(), 10)+".json"))

	saved, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, corrupt, saved)

	reset, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(reset))

	// a healthy ledger is not backed up again
	_, err = s.LoadAll()
	require.NoError(t, err)
	backups, err = filepath.Glob(filepath.Join(dir, "trades_backup_*.json"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestUpsertOnCorruptLedgerStartsFresh(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"not": "a list"}`), 0644))

	res, err := s.Upsert(longIntent())
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)

	entries, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIDsSentinels(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		want    error
	}{
		{"missing", nil, ErrLedgerMissing},
		{"blank", ptr("  \n"), ErrLedgerEmpty},
		{"empty list", ptr("[]"), ErrLedgerEmpty},
		{"corrupt", ptr("{oops"), ErrLedgerCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			if tt.content != nil {
				require.NoError(t, os.WriteFile(s.Path(), []byte(*tt.content), 0644))
			}

			ids, err := s.IDs()
			assert.Nil(t, ids)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, decision.ErrNoLedger)
		})
	}
}

func TestIDsHasNoSideEffects(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{oops"), 0644))

	_, err := s.IDs()
	require.Error(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "{oops", string(data))
	backups, _ := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), "*_backup_*"))
	assert.Empty(t, backups)
}

func TestStoreServesAsDeleteValidator(t *testing.T) {
	s, _ := newTestStore(t)
	res, err := s.Upsert(longIntent())
	require.NoError(t, err)

	window := []string{"id: 1, DELETE", "id: " + strconv.FormatInt(res.Entry.ID, 10) + ", DELETE"}
	del, err := decision.ExtractDeleteCommand(window, s)
	require.NoError(t, err)
	require.NotNil(t, del)
	assert.Equal(t, res.Entry.ID, del.TargetID)
}

func TestSummary(t *testing.T) {
	s, _ := newTestStore(t)

	sum, err := s.Summary()
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Total)
	assert.Equal(t, "No trades recorded.", sum.Text())

	_, err = s.Upsert(longIntent())
	require.NoError(t, err)
	short := decision.TradeIntent{
		Direction:     decision.DirectionShort,
		AllocationUSD: 40,
		StopLossUSD:   71000,
		TakeProfitUSD: 61000,
		SentimentPct:  12,
	}
	_, err = s.Upsert(short)
	require.NoError(t, err)

	sum, err = s.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 2, sum.Open)
	require.NotNil(t, sum.Last)
	assert.Equal(t, decision.DirectionShort, sum.Last.Direction)

	text := sum.Text()
	assert.Contains(t, text, "Total trades: 2")
	assert.Contains(t, text, "Last trade: SHORT ($40, Stop: $71000, Target: $61000, Sentiment: 12%)")
}

func TestPersistPolicy(t *testing.T) {
	intent := longIntent()
	intent.SentimentPct = 72

	assert.True(t, PersistPolicy{}.Allows(intent))
	assert.True(t, PersistPolicy{MinSentiment: 70}.Allows(intent))
	assert.False(t, PersistPolicy{MinSentiment: 75}.Allows(intent))

	wait := longIntent()
	wait.Direction = decision.DirectionWait
	assert.False(t, PersistPolicy{}.Allows(wait))
}

func ptr(s string) *string { return &s }

func TestCorruptLedgerKeptWhenBackupFails(t *testing.T) {
	s, now := newTestStore(t)
	corrupt := []byte(`[{"id": 1, "trade": "long",`)
	require.NoError(t, os.WriteFile(s.Path(), corrupt, 0644))

	// a directory squatting on the backup name makes the backup write fail
	backup := filepath.Join(filepath.Dir(s.Path()), "trades_backup_"+strconv.FormatInt(now.UnixMilli(), 10)+".json")
	require.NoError(t, os.Mkdir(backup, 0755))

	_, err := s.Upsert(longIntent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup failed")

	_, err = s.LoadAll()
	require.Error(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, corrupt, data, "ledger must not be reset without a backup")
}

func TestFieldErrorsDoNotResetLedger(t *testing.T) {
	s, _ := newTestStore(t)
	content := `[
  {"id": 7, "trade": "long", "allocation": "100", "stoploss": "$45,000", "takeprofit": 60000, "sentiment": "80%", "timestamp": "", "state": "open"},
  {"id": "8", "trade": "SHORT", "allocation": 50, "stoploss": 70000, "takeprofit": 55000, "sentiment": 75, "timestamp": "yesterday", "state": "open"},
  {"id": 9, "trade": "long", "allocation": "lots", "stoploss": null, "takeprofit": 61000, "sentiment": 90, "timestamp": "2025-03-01T10:00:00Z", "state": "closed"}
]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))

	entries, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, int64(7), entries[0].ID)
	assert.Equal(t, 100.0, entries[0].AllocationUSD)
	assert.Equal(t, 45000.0, entries[0].StopLossUSD)
	assert.Equal(t, 80.0, entries[0].SentimentPct)
	assert.True(t, entries[0].UpdatedAt.IsZero())

	assert.Equal(t, int64(8), entries[1].ID)
	assert.Equal(t, decision.DirectionShort, entries[1].Direction)
	assert.True(t, entries[1].UpdatedAt.IsZero())

	assert.Equal(t, 0.0, entries[2].AllocationUSD)
	assert.Equal(t, 0.0, entries[2].StopLossUSD)
	assert.Equal(t, StateClosed, entries[2].State)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), entries[2].UpdatedAt)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, content, string(data), "tolerated values leave the file untouched")
	backups, _ := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), "*_backup_*"))
	assert.Empty(t, backups)

	ids, err := s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, ids)
}

func TestNonObjectEntryIsCorrupt(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`[1, 2]`), 0644))

	entries, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)

	backups, _ := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), "trades_backup_*.json"))
	assert.Len(t, backups, 1)
}
