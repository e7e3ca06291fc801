package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// PostgreSQLWriter stores audit records in the audit_records table of PostgreSQL.
type PostgreSQLWriter struct {
	db *sql.DB
}

// NewPostgreSQLWriter creates a PostgreSQLWriter.
func NewPostgreSQLWriter(db *sql.DB) *PostgreSQLWriter {
	return &PostgreSQLWriter{db: db}
}

// Write inserts record.
func (w *PostgreSQLWriter) Write(ctx context.Context, record *kmsDomain.AuditRecord) error {
	query := `INSERT INTO audit_records (id, name, version, requester, action, outcome, error, signature, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := w.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.Name,
		record.Version,
		record.Requester,
		string(record.Action),
		string(record.Outcome),
		record.Error,
		record.Signature,
		record.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first.
func (w *PostgreSQLWriter) List(ctx context.Context, limit int) ([]*kmsDomain.AuditRecord, error) {
	query := `SELECT id, name, version, requester, action, outcome, error, signature, created_at
			  FROM audit_records ORDER BY created_at DESC LIMIT $1`

	return listRecords(ctx, w.db, query, limit, func(raw []byte) (uuid.UUID, error) {
		return uuid.ParseBytes(raw)
	})
}

// Close is a no-op; the connection pool is owned by the caller.
func (w *PostgreSQLWriter) Close() error {
	return nil
}

// MySQLWriter stores audit records in the audit_records table of MySQL.
type MySQLWriter struct {
	db *sql.DB
}

// NewMySQLWriter creates a MySQLWriter.
func NewMySQLWriter(db *sql.DB) *MySQLWriter {
	return &MySQLWriter{db: db}
}

// Write inserts record. The id is stored as BINARY(16).
func (w *MySQLWriter) Write(ctx context.Context, record *kmsDomain.AuditRecord) error {
	id, err := record.ID.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal audit record id: %w", err)
	}

	query := `INSERT INTO audit_records (id, name, version, requester, action, outcome, error, signature, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = w.db.ExecContext(
		ctx,
		query,
		id,
		record.Name,
		record.Version,
		record.Requester,
		string(record.Action),
		string(record.Outcome),
		record.Error,
		record.Signature,
		record.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first.
func (w *MySQLWriter) List(ctx context.Context, limit int) ([]*kmsDomain.AuditRecord, error) {
	query := `SELECT id, name, version, requester, action, outcome, error, signature, created_at
			  FROM audit_records ORDER BY created_at DESC LIMIT ?`

	return listRecords(ctx, w.db, query, limit, uuid.FromBytes)
}

// Close is a no-op; the connection pool is owned by the caller.
func (w *MySQLWriter) Close() error {
	return nil
}

func listRecords(
	ctx context.Context,
	db *sql.DB,
	query string,
	limit int,
	parseID func([]byte) (uuid.UUID, error),
) (records []*kmsDomain.AuditRecord, err error) {
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	records = make([]*kmsDomain.AuditRecord, 0)
	for rows.Next() {
		var (
			record  kmsDomain.AuditRecord
			rawID   []byte
			action  string
			outcome string
		)
		if err := rows.Scan(
			&rawID,
			&record.Name,
			&record.Version,
			&record.Requester,
			&action,
			&outcome,
			&record.Error,
			&record.Signature,
			&record.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		record.ID, err = parseID(rawID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audit record id: %w", err)
		}
		record.Action = kmsDomain.Action(action)
		record.Outcome = kmsDomain.Outcome(outcome)
		record.Timestamp = record.Timestamp.UTC()
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}
