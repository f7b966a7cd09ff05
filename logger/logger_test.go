package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleLoggerSQLite(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l := NewCycleLogger(Options{Dir: dir})
	require.Equal(t, "sqlite", l.Backend())

	first := &CycleRecord{Source: "api", InputText: "hello", Outcome: "no-signal", Message: "No actionable signal", Success: true}
	require.NoError(t, l.LogCycle(ctx, first))
	second := &CycleRecord{Source: "runner", Outcome: "trade-created", EntryID: 42, Warnings: []string{"leverage refused"}, Success: true}
	require.NoError(t, l.LogCycle(ctx, second))

	assert.Equal(t, 1, first.CycleNumber)
	assert.Equal(t, 2, second.CycleNumber)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	records, err := l.Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "trade-created", records[0].Outcome)
	assert.Equal(t, int64(42), records[0].EntryID)
	assert.Equal(t, []string{"leverage refused"}, records[0].Warnings)
	assert.Equal(t, "hello", records[1].InputText)
	require.NoError(t, l.Close())

	// cycle numbering continues after reopen
	reopened := NewCycleLogger(Options{Dir: dir})
	defer reopened.Close()
	third := &CycleRecord{Outcome: "wait-acknowledged", Success: true}
	require.NoError(t, reopened.LogCycle(ctx, third))
	assert.Equal(t, 3, third.CycleNumber)
}

func TestCycleLoggerJSONFallback(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l := NewCycleLogger(Options{Dir: dir, DisableDB: true})
	require.Equal(t, "json", l.Backend())

	for _, outcome := range []string{"no-signal", "trade-created", "trade-deleted"} {
		require.NoError(t, l.LogCycle(ctx, &CycleRecord{Outcome: outcome, Success: true}))
	}

	records, err := l.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "trade-deleted", records[0].Outcome)
	assert.Equal(t, 3, records[0].CycleNumber)

	reopened := NewCycleLogger(Options{Dir: dir, DisableDB: true})
	next := &CycleRecord{Outcome: "no-signal"}
	require.NoError(t, reopened.LogCycle(ctx, next))
	assert.Equal(t, 4, next.CycleNumber)
}

func TestMaskConnectionString(t *testing.T) {
	assert.Equal(t, "postgres://user:****@db:5432/x", maskConnectionString("postgres://user:secret@db:5432/x"))
	assert.Equal(t, "postgres://db/x", maskConnectionString("postgres://db/x"))
}

func TestThoughtLogDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log-agent.json")
	tl := NewThoughtLog(path, false, "")

	entry, err := tl.Record(context.Background(), "t", "m")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoFileExists(t, path)
}

func TestThoughtLogLocalText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log-agent.json")
	tl := NewThoughtLog(path, true, "")

	_, err := tl.Record(context.Background(), "BTC looks strong", "")
	require.NoError(t, err)
	_, err = tl.Record(context.Background(), "", "Trade created")
	require.NoError(t, err)

	entries, err := tl.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "BTC looks strong", entries[0].Thoughts)
	assert.Equal(t, NotAvailable, entries[0].Message)
	assert.Equal(t, NotAvailable, entries[1].Thoughts)
	assert.NotEmpty(t, entries[1].Date)
}

func TestThoughtLogFetchesAgentLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"body":{"response":{"thought":"sentiment rising","message":"going long"}}},{"body":{}}]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "log-agent.json")
	tl := NewThoughtLog(path, true, srv.URL)

	entry, err := tl.Record(context.Background(), "ignored", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "sentiment rising", entry.Thoughts)
	assert.Equal(t, "going long", entry.Message)
}

func TestThoughtLogMissingFieldsBecomeNA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "log-agent.json")
	entry, err := NewThoughtLog(path, true, srv.URL).Record(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, NotAvailable, entry.Thoughts)
	assert.Equal(t, NotAvailable, entry.Message)
}

func TestThoughtLogRecoversFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log-agent.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	tl := NewThoughtLog(path, true, "")
	_, err := tl.Record(context.Background(), "a", "b")
	require.NoError(t, err)

	entries, err := tl.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
