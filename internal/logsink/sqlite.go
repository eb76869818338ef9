package logsink

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/minivault/minivault/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts REAL NOT NULL,
	request_id TEXT NOT NULL,
	client_addr TEXT,
	prompt TEXT NOT NULL,
	response TEXT,
	stream INTEGER NOT NULL,
	preset TEXT,
	model TEXT,
	temperature REAL,
	top_p REAL,
	max_tokens INTEGER,
	system_prompt TEXT,
	provider TEXT NOT NULL,
	fallback_used INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	dur_ms REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);
`

// SQLiteAppender persists records to a local SQLite database, one row per
// request, for deployments that want the log queryable in place.
type SQLiteAppender struct {
	db *sql.DB
}

func NewSQLiteAppender(path string) (*SQLiteAppender, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteAppender{db: db}, nil
}

func (a *SQLiteAppender) Append(rec domain.LogRecord) error {
	_, err := a.db.Exec(
		`INSERT INTO requests (
			ts, request_id, client_addr, prompt, response, stream,
			preset, model, temperature, top_p, max_tokens, system_prompt,
			provider, fallback_used, status, error,
			prompt_tokens, completion_tokens, total_tokens, dur_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		float64(rec.Timestamp.UnixNano())/1e9,
		rec.RequestID,
		rec.ClientAddr,
		rec.Prompt,
		rec.Response,
		rec.Stream,
		rec.Preset,
		rec.Model,
		rec.Temperature,
		rec.TopP,
		rec.MaxTokens,
		rec.SystemPrompt,
		rec.Provider,
		rec.FallbackUsed,
		rec.Status,
		rec.Error,
		rec.Usage.PromptTokens,
		rec.Usage.CompletionTokens,
		rec.Usage.TotalTokens,
		rec.ProcessingMs,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (a *SQLiteAppender) Close() error {
	return a.db.Close()
}
