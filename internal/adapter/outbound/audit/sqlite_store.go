package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openmcpd/openmcpd/internal/domain/audit"
)

// SQLiteStore implements audit.Store on a local sqlite database, giving a
// queryable history without an external service.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp       TEXT NOT NULL,
	request_id      TEXT NOT NULL,
	session_id      TEXT,
	method          TEXT NOT NULL,
	operation       TEXT,
	transport       TEXT,
	user_id         TEXT,
	remote_addr     TEXT,
	outcome         TEXT NOT NULL,
	error_code      INTEGER,
	duration_micros INTEGER,
	params          TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id);
`

// NewSQLiteStore opens (creating if needed) the audit database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts records in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_records
		(timestamp, request_id, session_id, method, operation, transport,
		 user_id, remote_addr, outcome, error_code, duration_micros, params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		var params []byte
		if len(rec.Params) > 0 {
			params, err = json.Marshal(rec.Params)
			if err != nil {
				return fmt.Errorf("marshal audit params: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.RequestID, rec.SessionID, rec.Method, rec.Operation,
			rec.Transport, rec.UserID, rec.RemoteAddr, rec.Outcome,
			rec.ErrorCode, rec.DurationMicros, string(params),
		); err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op: each Append commits its transaction.
func (s *SQLiteStore) Flush(context.Context) error { return nil }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Recent returns the last n records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]audit.Record, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		timestamp, request_id, session_id, method, operation, transport,
		user_id, remote_addr, outcome, error_code, duration_micros, params
		FROM audit_records ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Record
	for rows.Next() {
		var rec audit.Record
		var ts, params string
		if err := rows.Scan(&ts, &rec.RequestID, &rec.SessionID, &rec.Method,
			&rec.Operation, &rec.Transport, &rec.UserID, &rec.RemoteAddr,
			&rec.Outcome, &rec.ErrorCode, &rec.DurationMicros, &params); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		}
		if params != "" {
			_ = json.Unmarshal([]byte(params), &rec.Params)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Compile-time interface verification.
var _ audit.Store = (*SQLiteStore)(nil)
