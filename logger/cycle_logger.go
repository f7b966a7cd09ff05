package logger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// CycleRecord one decision cycle
type CycleRecord struct {
	ID            string    `json:"id"`
	CycleNumber   int       `json:"cycle_number"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`     // api, runner, cli
	InputText     string    `json:"input_text"` // agent text that triggered the cycle
	Outcome       string    `json:"outcome"`
	Message       string    `json:"message"`
	IntentJSON    string    `json:"intent_json,omitempty"`
	EntryID       int64     `json:"entry_id,omitempty"`
	ExecutionJSON string    `json:"execution_json,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
}

// Options journal backend selection.
// DatabaseURL selects PostgreSQL; otherwise SQLite under Dir; JSON files when no database opens.
type Options struct {
	Dir         string
	DatabaseURL string
	Instance    string // separates agents sharing one PostgreSQL database
	DisableDB   bool   // JSON files only
}

// CycleLogger cycle journal (SQLite, PostgreSQL or JSON files)
type CycleLogger struct {
	db          *sql.DB
	dir         string
	instance    string
	isPostgres  bool
	mu          sync.Mutex
	cycleNumber int
}

// NewCycleLogger opens the journal; it never fails, degrading to JSON files instead
func NewCycleLogger(opts Options) *CycleLogger {
	if opts.Dir == "" {
		opts.Dir = "cycle_logs"
	}
	if opts.Instance == "" {
		opts.Instance = "default"
	}
	l := &CycleLogger{dir: opts.Dir, instance: opts.Instance}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		log.Warn().Err(err).Msg("⚠ Failed to create log directory")
	}

	if !opts.DisableDB {
		if opts.DatabaseURL != "" {
			l.db = openPostgres(opts.DatabaseURL)
			l.isPostgres = l.db != nil
		}
		if l.db == nil {
			l.db = openSQLite(filepath.Join(opts.Dir, "cycles.db"))
		}
	}

	if l.db != nil {
		if err := l.initDB(); err != nil {
			log.Warn().Err(err).Msg("⚠ Failed to initialize journal database, using JSON files")
			l.db.Close()
			l.db = nil
			l.isPostgres = false
		}
	}

	if l.db == nil {
		log.Warn().Str("dir", opts.Dir).Msg("⚠ Journal database not initialized, will use JSON file mode")
		l.restoreCycleNumberFromJSON()
	} else if err := l.restoreCycleNumber(); err != nil {
		log.Info().Err(err).Msg("ℹ️  Unable to restore previous cycle number, starting from 1")
	}
	return l
}

func openPostgres(url string) *sql.DB {
	connString := url
	if !strings.Contains(connString, "connect_timeout") {
		sep := "?"
		if strings.Contains(connString, "?") {
			sep = "&"
		}
		connString += sep + "connect_timeout=30"
	}

	db, err := sql.Open("postgres", connString)
	if err != nil {
		log.Warn().Err(err).Msg("⚠ Failed to open PostgreSQL journal, falling back to SQLite")
		return nil
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Warn().Err(err).Str("url", maskConnectionString(url)).Msg("⚠ PostgreSQL journal unreachable, falling back to SQLite")
		db.Close()
		return nil
	}
	log.Info().Msg("✅ Connected to PostgreSQL journal")
	return db
}

func openSQLite(path string) *sql.DB {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		log.Warn().Err(err).Msg("⚠ Failed to open SQLite journal")
		return nil
	}
	if err := db.Ping(); err != nil {
		log.Warn().Err(err).Msg("⚠ SQLite journal connection failed")
		db.Close()
		return nil
	}
	db.SetMaxOpenConns(1)
	return db
}

// maskConnectionString hides the password of a postgres URL
func maskConnectionString(conn string) string {
	at := strings.Index(conn, "@")
	scheme := strings.Index(conn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return conn
	}
	creds := conn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return conn[:scheme+3] + creds[:colon] + ":****" + conn[at:]
	}
	return conn
}

func (l *CycleLogger) initDB() error {
	tsType := "DATETIME"
	if l.isPostgres {
		tsType = "TIMESTAMPTZ"
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		instance TEXT NOT NULL,
		cycle_number INTEGER NOT NULL,
		timestamp %s NOT NULL,
		source TEXT,
		input_text TEXT,
		outcome TEXT NOT NULL,
		message TEXT,
		intent_json TEXT,
		entry_id BIGINT,
		execution_json TEXT,
		warnings TEXT,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_instance ON cycles(instance, cycle_number);
	CREATE INDEX IF NOT EXISTS idx_cycles_outcome ON cycles(outcome);`, tsType)

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// ph placeholder for the n-th bound parameter
func (l *CycleLogger) ph(n int) string {
	if l.isPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (l *CycleLogger) restoreCycleNumber() error {
	var maxCycle sql.NullInt64
	q := "SELECT MAX(cycle_number) FROM cycles WHERE instance = " + l.ph(1)
	if err := l.db.QueryRow(q, l.instance).Scan(&maxCycle); err != nil {
		return fmt.Errorf("failed to query max cycle number: %w", err)
	}
	if maxCycle.Valid {
		l.cycleNumber = int(maxCycle.Int64)
		log.Info().Int("cycle", l.cycleNumber).Msg("✅ Restored cycle number")
	}
	return nil
}

func (l *CycleLogger) restoreCycleNumberFromJSON() {
	records, err := l.readJSONRecords()
	if err != nil {
		return
	}
	for _, r := range records {
		if r.CycleNumber > l.cycleNumber {
			l.cycleNumber = r.CycleNumber
		}
	}
}

// Backend name of the active backend
func (l *CycleLogger) Backend() string {
	switch {
	case l.db == nil:
		return "json"
	case l.isPostgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

// LogCycle assigns id, cycle number and timestamp, then stores the record.
// A database failure falls back to a JSON file for that record.
func (l *CycleLogger) LogCycle(ctx context.Context, record *CycleRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cycleNumber++
	record.CycleNumber = l.cycleNumber
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	if l.db != nil {
		if err := l.insert(ctx, record); err != nil {
			log.Warn().Err(err).Int("cycle", record.CycleNumber).Msg("⚠ Database save failed, falling back to JSON file")
			return l.writeJSON(record)
		}
		log.Debug().Int("cycle", record.CycleNumber).Str("outcome", record.Outcome).Msg("📝 Cycle record saved")
		return nil
	}
	return l.writeJSON(record)
}

func (l *CycleLogger) insert(ctx context.Context, r *CycleRecord) error {
	warnings, _ := json.Marshal(r.Warnings)
	placeholders := make([]string, 15)
	for i := range placeholders {
		placeholders[i] = l.ph(i + 1)
	}
	q := `INSERT INTO cycles (
		id, instance, cycle_number, timestamp, source, input_text, outcome, message,
		intent_json, entry_id, execution_json, warnings, success, error_message, duration_ms
	) VALUES (` + strings.Join(placeholders, ", ") + `)`

	_, err := l.db.ExecContext(ctx, q,
		r.ID, l.instance, r.CycleNumber, r.Timestamp, r.Source, r.InputText, r.Outcome, r.Message,
		r.IntentJSON, r.EntryID, r.ExecutionJSON, string(warnings), r.Success, r.ErrorMessage, r.DurationMs)
	return err
}

func (l *CycleLogger) writeJSON(record *CycleRecord) error {
	filename := fmt.Sprintf("cycle_%s_%06d.json", record.Timestamp.Format("20060102_150405"), record.CycleNumber)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, filename), data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	log.Debug().Str("file", filename).Msg("📝 Cycle record saved (JSON)")
	return nil
}

// Latest returns up to n most recent records, newest first
func (l *CycleLogger) Latest(ctx context.Context, n int) ([]*CycleRecord, error) {
	if n <= 0 {
		n = 20
	}
	if l.db == nil {
		records, err := l.readJSONRecords()
		if err != nil {
			return nil, err
		}
		if len(records) > n {
			records = records[:n]
		}
		return records, nil
	}

	q := `SELECT id, cycle_number, timestamp, source, input_text, outcome, message, intent_json,
		entry_id, execution_json, warnings, success, error_message, duration_ms
		FROM cycles WHERE instance = ` + l.ph(1) + ` ORDER BY cycle_number DESC LIMIT ` + l.ph(2)
	rows, err := l.db.QueryContext(ctx, q, l.instance, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var out []*CycleRecord
	for rows.Next() {
		var (
			r                                           CycleRecord
			source, input, message, intent, exec, warns sql.NullString
			errMsg                                      sql.NullString
			entryID                                     sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.CycleNumber, &r.Timestamp, &source, &input, &r.Outcome, &message,
			&intent, &entryID, &exec, &warns, &r.Success, &errMsg, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		r.Source, r.InputText, r.Message = source.String, input.String, message.String
		r.IntentJSON, r.ExecutionJSON, r.ErrorMessage = intent.String, exec.String, errMsg.String
		r.EntryID = entryID.Int64
		if warns.Valid && warns.String != "" && warns.String != "null" {
			_ = json.Unmarshal([]byte(warns.String), &r.Warnings)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// readJSONRecords all JSON records, newest first
func (l *CycleLogger) readJSONRecords() ([]*CycleRecord, error) {
	files, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var records []*CycleRecord
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), "cycle_") || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, f.Name()))
		if err != nil {
			continue
		}
		var r CycleRecord
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		records = append(records, &r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CycleNumber > records[j].CycleNumber })
	return records, nil
}

// Close releases the database handle
func (l *CycleLogger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
