package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
)

// SQLiteStore persists call summaries in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			session_id TEXT PRIMARY KEY,
			call_sid TEXT,
			stream_sid TEXT,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			outcome TEXT,
			note TEXT,
			fields TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			usage TEXT,
			end_reason TEXT,
			barge_ins INTEGER NOT NULL DEFAULT 0,
			tool_call_count INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_call_sid ON calls(call_sid, started_at)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			call_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			args TEXT,
			result TEXT,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES calls(session_id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveCall inserts or replaces a call summary and its tool call log.
func (s *SQLiteStore) SaveCall(ctx context.Context, sum *domain.CallSummary, costUSD float64) error {
	usage, err := json.Marshal(sum.Usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	var category, note string
	var fields sql.NullString
	if sum.Outcome != nil {
		category = string(sum.Outcome.Category)
		note = sum.Outcome.Note
		if len(sum.Outcome.Fields) > 0 {
			data, err := json.Marshal(sum.Outcome.Fields)
			if err != nil {
				return fmt.Errorf("encode outcome fields: %w", err)
			}
			fields = sql.NullString{String: string(data), Valid: true}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_calls WHERE session_id = ?`, sum.SessionID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO calls (session_id, call_sid, stream_sid, started_at, ended_at, duration_ms, outcome, note, fields, input_tokens, output_tokens, usage, end_reason, barge_ins, tool_call_count, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, nullString(sum.CallSID), nullString(sum.StreamSID), sum.StartedAt, sum.EndedAt,
		sum.Duration.Milliseconds(), nullString(category), nullString(note), fields,
		sum.Usage.InputTokens, sum.Usage.OutputTokens, string(usage), nullString(sum.EndReason), sum.BargeIns, sum.ToolCalls, costUSD)
	if err != nil {
		return err
	}

	for i, tc := range sum.ToolCallLog {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tool_calls (session_id, seq, call_id, tool_name, status, args, result) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sum.SessionID, i, tc.CallID, tc.ToolName, string(tc.Status), nullStringBytes(tc.Args), nullStringBytes(tc.Result))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const callColumns = `session_id, call_sid, stream_sid, started_at, ended_at, duration_ms, outcome, note, fields, usage, end_reason, barge_ins, tool_call_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*domain.CallSummary, error) {
	var sum domain.CallSummary
	var callSID, streamSID, outcome, note, fields, usage, endReason sql.NullString
	var durationMS int64
	err := row.Scan(&sum.SessionID, &callSID, &streamSID, &sum.StartedAt, &sum.EndedAt, &durationMS,
		&outcome, &note, &fields, &usage, &endReason, &sum.BargeIns, &sum.ToolCalls)
	if err != nil {
		return nil, err
	}
	sum.CallSID = callSID.String
	sum.StreamSID = streamSID.String
	sum.EndReason = endReason.String
	sum.Duration = time.Duration(durationMS) * time.Millisecond
	if usage.Valid {
		if err := json.Unmarshal([]byte(usage.String), &sum.Usage); err != nil {
			return nil, fmt.Errorf("decode usage: %w", err)
		}
	}
	if outcome.Valid {
		sum.Outcome = &domain.Outcome{
			Category: domain.OutcomeCategory(outcome.String),
			Note:     note.String,
		}
		if fields.Valid {
			if err := json.Unmarshal([]byte(fields.String), &sum.Outcome.Fields); err != nil {
				return nil, fmt.Errorf("decode outcome fields: %w", err)
			}
		}
	}
	return &sum, nil
}

// GetCall retrieves a call summary by session ID. It returns nil when absent.
func (s *SQLiteStore) GetCall(ctx context.Context, sessionID string) (*domain.CallSummary, error) {
	sum, err := scanCall(s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE session_id = ?`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadToolCalls(ctx, sum); err != nil {
		return nil, err
	}
	return sum, nil
}

// ListCalls returns the most recent call summaries, optionally filtered by call SID.
// Tool call logs are not loaded.
func (s *SQLiteStore) ListCalls(ctx context.Context, callSID string, limit int) ([]domain.CallSummary, error) {
	query := `SELECT ` + callColumns + ` FROM calls`
	args := []interface{}{}
	if callSID != "" {
		query += ` WHERE call_sid = ?`
		args = append(args, callSID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.CallSummary
	for rows.Next() {
		sum, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *sum)
	}
	return calls, rows.Err()
}

func (s *SQLiteStore) loadToolCalls(ctx context.Context, sum *domain.CallSummary) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, tool_name, status, args, result FROM tool_calls WHERE session_id = ? ORDER BY seq`,
		sum.SessionID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tc domain.ToolCall
		var args, result sql.NullString
		if err := rows.Scan(&tc.CallID, &tc.ToolName, &tc.Status, &args, &result); err != nil {
			return err
		}
		if args.Valid {
			tc.Args = json.RawMessage(args.String)
		}
		if result.Valid {
			tc.Result = json.RawMessage(result.String)
		}
		sum.ToolCallLog = append(sum.ToolCallLog, tc)
	}
	return rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
