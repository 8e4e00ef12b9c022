package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/dshills/promoflow/pkg/audit"
)

// SQLiteAuditStore persists audit records in SQLite. It implements
// audit.Sink.
type SQLiteAuditStore struct {
	db *sql.DB
}

var _ audit.Sink = (*SQLiteAuditStore)(nil)

// NewSQLiteAuditStore opens (creating if needed) the database at dbPath and
// applies migrations.
func NewSQLiteAuditStore(dbPath string) (*SQLiteAuditStore, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := InitializeDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &SQLiteAuditStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

// Append implements audit.Sink.
func (s *SQLiteAuditStore) Append(ctx context.Context, r audit.Record) error {
	input, err := marshalNullable(r.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	output, err := marshalNullable(r.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	var errMsg sql.NullString
	if r.Error != "" {
		errMsg = sql.NullString{String: r.Error, Valid: true}
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
		INSERT INTO audit_records (
			request_id, tree_id, node_id, node_type, command_type,
			input, output, duration_ns, status, error_message, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		r.RequestID, r.TreeID, r.NodeID, r.NodeType, r.CommandType,
		input, output, int64(r.Duration), string(r.Status), errMsg,
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// ListByRequest returns the records of one evaluation in visit order.
func (s *SQLiteAuditStore) ListByRequest(ctx context.Context, requestID string) ([]audit.Record, error) {
	return s.list(ctx, `WHERE request_id = ? ORDER BY id ASC`, requestID)
}

// ListByTree returns the most recent records for a tree, newest first.
func (s *SQLiteAuditStore) ListByTree(ctx context.Context, treeID string, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `WHERE tree_id = ? ORDER BY id DESC LIMIT ?`, treeID, limit)
}

func (s *SQLiteAuditStore) list(ctx context.Context, clause string, args ...interface{}) ([]audit.Record, error) {
	query := `
		SELECT request_id, tree_id, node_id, node_type, command_type,
			input, output, duration_ns, status, error_message, recorded_at
		FROM audit_records ` + clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []audit.Record
	for rows.Next() {
		var (
			r            audit.Record
			input        sql.NullString
			output       sql.NullString
			durationNs   int64
			status       string
			errMsg       sql.NullString
			recordedAtTx string
		)
		if err := rows.Scan(&r.RequestID, &r.TreeID, &r.NodeID, &r.NodeType, &r.CommandType,
			&input, &output, &durationNs, &status, &errMsg, &recordedAtTx); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		if r.Input, err = unmarshalNullable(input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
		if r.Output, err = unmarshalNullable(output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
		r.Duration = time.Duration(durationNs)
		r.Status = audit.Status(status)
		r.Error = errMsg.String
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, recordedAtTx); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

func marshalNullable(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
