// Package store persists pipeline results, model call traces and run metrics
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jackzampolin/docextract/internal/llmcall"
	"github.com/jackzampolin/docextract/internal/metrics"
)

// ErrNotFound is returned when a result does not exist.
var ErrNotFound = errors.New("not found")

const busyRetries = 5

// columns lists the writable columns of every table reachable through InsertRows.
var columns = map[string]map[string]bool{
	llmcall.Table: set("id", "timestamp", "latency_ms", "run_id", "stage", "item_key", "prompt_key",
		"prompt_cid", "provider", "model", "temperature", "input_tokens", "output_tokens", "response",
		"success", "error"),
}

func set(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// SQLiteStore is the results database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path. ":memory:" is accepted for tests.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" && journalMode != "delete" && journalMode != "memory" {
		db.Close()
		return nil, fmt.Errorf("unexpected journal mode: got %s", journalMode)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debug("results database ready", "path", path, "journal_mode", journalMode)
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		input_file TEXT NOT NULL,
		document_type TEXT NOT NULL,
		overall_confidence REAL NOT NULL,
		is_valid INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_document_type ON results(document_type);
	CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at);

	CREATE TABLE IF NOT EXISTS llm_calls (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		latency_ms INTEGER,
		run_id TEXT,
		stage TEXT,
		item_key TEXT,
		prompt_key TEXT,
		prompt_cid TEXT,
		provider TEXT,
		model TEXT,
		temperature REAL,
		input_tokens INTEGER,
		output_tokens INTEGER,
		response TEXT,
		success INTEGER,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_llm_calls_run_id ON llm_calls(run_id);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT,
		item_key TEXT,
		provider TEXT,
		model TEXT,
		cost_usd REAL,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		total_tokens INTEGER,
		execution_seconds REAL,
		total_seconds REAL,
		success INTEGER NOT NULL,
		error_type TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_run_id ON metrics(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// retryOnBusy retries op while SQLite reports the database as locked.
func (s *SQLiteStore) retryOnBusy(op func() error) error {
	var err error
	for i := 0; i < busyRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "SQLITE_BUSY") {
			return err
		}
		time.Sleep(time.Duration(10*(1<<uint(i))) * time.Millisecond)
	}
	return fmt.Errorf("operation failed after %d retries: %w", busyRetries, err)
}

// ResultRow is a stored pipeline result. Data holds the full result JSON.
type ResultRow struct {
	ID                string          `json:"id"`
	RunID             string          `json:"run_id,omitempty"`
	InputFile         string          `json:"input_file"`
	DocumentType      string          `json:"document_type"`
	OverallConfidence float64         `json:"overall_confidence"`
	IsValid           bool            `json:"is_valid"`
	CreatedAt         time.Time       `json:"created_at"`
	Data              json.RawMessage `json:"data,omitempty"`
}

// SaveResult inserts or replaces a result.
func (s *SQLiteStore) SaveResult(ctx context.Context, r ResultRow) error {
	if r.ID == "" {
		return fmt.Errorf("result id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	query := `INSERT OR REPLACE INTO results
		(id, run_id, input_file, document_type, overall_confidence, is_valid, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	return s.retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, query,
			r.ID, r.RunID, r.InputFile, r.DocumentType, r.OverallConfidence,
			boolInt(r.IsValid), r.CreatedAt.UTC(), string(r.Data))
		if err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		return nil
	})
}

// GetResult returns one result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*ResultRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, run_id, input_file, document_type,
		overall_confidence, is_valid, created_at, data FROM results WHERE id = ?`, id)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return r, nil
}

// ResultFilter narrows ListResults. Zero values match everything.
type ResultFilter struct {
	DocumentType string
	RunID        string
	Limit        int
}

// ListResults returns results newest first.
func (s *SQLiteStore) ListResults(ctx context.Context, f ResultFilter) ([]ResultRow, error) {
	query := `SELECT id, run_id, input_file, document_type, overall_confidence, is_valid,
		created_at, data FROM results WHERE 1=1`
	var args []any
	if f.DocumentType != "" {
		query += " AND document_type = ?"
		args = append(args, f.DocumentType)
	}
	if f.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, f.RunID)
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (*ResultRow, error) {
	var (
		r       ResultRow
		runID   sql.NullString
		isValid int
		data    string
	)
	if err := sc.Scan(&r.ID, &runID, &r.InputFile, &r.DocumentType, &r.OverallConfidence,
		&isValid, &r.CreatedAt, &data); err != nil {
		return nil, err
	}
	r.RunID = runID.String
	r.IsValid = isValid != 0
	r.Data = json.RawMessage(data)
	return &r, nil
}

// SaveMetrics stores a run's metrics. It implements metrics.Sink.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, runID string, ms []metrics.Metric) error {
	if len(ms) == 0 {
		return nil
	}
	return s.retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO metrics
			(run_id, stage, item_key, provider, model, cost_usd, prompt_tokens, completion_tokens,
			 total_tokens, execution_seconds, total_seconds, success, error_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range ms {
			created := m.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			if _, err := stmt.ExecContext(ctx, runID, m.Stage, m.ItemKey, m.Provider, m.Model,
				m.CostUSD, m.PromptTokens, m.CompletionTokens, m.TotalTokens, m.ExecutionSeconds,
				m.TotalSeconds, boolInt(m.Success), m.ErrorType, created.UTC()); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListMetrics returns a run's metrics in insertion order.
func (s *SQLiteStore) ListMetrics(ctx context.Context, runID string) ([]metrics.Metric, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, stage, item_key, provider, model, cost_usd,
		prompt_tokens, completion_tokens, total_tokens, execution_seconds, total_seconds,
		success, error_type, created_at FROM metrics WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	var out []metrics.Metric
	for rows.Next() {
		var (
			m       metrics.Metric
			success int
		)
		if err := rows.Scan(&m.RunID, &m.Stage, &m.ItemKey, &m.Provider, &m.Model, &m.CostUSD,
			&m.PromptTokens, &m.CompletionTokens, &m.TotalTokens, &m.ExecutionSeconds,
			&m.TotalSeconds, &success, &m.ErrorType, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		m.Success = success != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertRows writes column maps into table in one transaction. Only tables and
// columns known to the store are accepted.
func (s *SQLiteStore) InsertRows(ctx context.Context, table string, rows []map[string]any) error {
	allowed, ok := columns[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if len(rows) == 0 {
		return nil
	}

	return s.retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, row := range rows {
			cols := make([]string, 0, len(row))
			for c := range row {
				if !allowed[c] {
					return fmt.Errorf("unknown column %q in %s", c, table)
				}
				cols = append(cols, c)
			}
			sort.Strings(cols)

			args := make([]any, len(cols))
			for i, c := range cols {
				args[i] = row[c]
				if b, ok := args[i].(bool); ok {
					args[i] = boolInt(b)
				}
			}
			query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
				table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListCalls returns a run's model call records, oldest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, runID string) ([]llmcall.Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, latency_ms, run_id, stage, item_key,
		prompt_key, prompt_cid, provider, model, temperature, input_tokens, output_tokens,
		response, success, error FROM llm_calls WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var out []llmcall.Call
	for rows.Next() {
		var (
			c                                llmcall.Call
			ts                               string
			latency, inTok, outTok, success  sql.NullInt64
			runID, stage, itemKey, promptKey sql.NullString
			promptCID, prov, model, response sql.NullString
			errMsg                           sql.NullString
			temp                             sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &ts, &latency, &runID, &stage, &itemKey, &promptKey, &promptCID,
			&prov, &model, &temp, &inTok, &outTok, &response, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		c.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		c.LatencyMs = int(latency.Int64)
		c.RunID, c.Stage, c.ItemKey = runID.String, stage.String, itemKey.String
		c.PromptKey, c.PromptCID = promptKey.String, promptCID.String
		c.Provider, c.Model = prov.String, model.String
		if temp.Valid {
			t := temp.Float64
			c.Temperature = &t
		}
		c.InputTokens, c.OutputTokens = int(inTok.Int64), int(outTok.Int64)
		c.Response, c.Error = response.String, errMsg.String
		c.Success = success.Int64 != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ metrics.Sink = (*SQLiteStore)(nil)
