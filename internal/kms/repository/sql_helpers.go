package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	"github.com/allisson/kms/internal/database"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

const keyEntryColumns = `name, version, algorithm, encrypted_key, nonce, tag, status, metadata, created_by, created_at, expires_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyEntry(row rowScanner) (*kmsDomain.KeyEntry, error) {
	var (
		entry     kmsDomain.KeyEntry
		algorithm string
		status    string
		metadata  []byte
		expiresAt sql.NullTime
	)

	err := row.Scan(
		&entry.Name,
		&entry.Version,
		&algorithm,
		&entry.EncryptedKey,
		&entry.Nonce,
		&entry.Tag,
		&status,
		&metadata,
		&entry.CreatedBy,
		&entry.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Algorithm = cryptoDomain.Algorithm(algorithm)
	entry.Status = kmsDomain.KeyStatus(status)
	entry.CreatedAt = entry.CreatedAt.UTC()
	if expiresAt.Valid {
		entry.ExpiresAt = expiresAt.Time.UTC()
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal key metadata: %w", err)
		}
	}
	return &entry, nil
}

// marshalMetadata returns a text parameter since MySQL rejects binary strings for JSON
// columns.
func marshalMetadata(metadata map[string]string) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// storageError wraps unexpected driver errors so callers can classify them.
func storageError(err error, op string) error {
	return fmt.Errorf("%w: %s: %w", kmsDomain.ErrStorageUnavailable, op, err)
}

func queryKeyEntries(
	ctx context.Context,
	querier database.Querier,
	query string,
	args ...any,
) (entries []*kmsDomain.KeyEntry, err error) {
	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(err, "failed to list key entries")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = storageError(closeErr, "failed to close rows")
		}
	}()

	entries = make([]*kmsDomain.KeyEntry, 0)
	for rows.Next() {
		entry, err := scanKeyEntry(rows)
		if err != nil {
			return nil, storageError(err, "failed to scan key entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "failed to iterate key entries")
	}
	return entries, nil
}

func toMetadata(entries []*kmsDomain.KeyEntry) []*kmsDomain.KeyMetadata {
	out := make([]*kmsDomain.KeyMetadata, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ToMetadata())
	}
	return out
}

// checkUpdated turns a zero-row update into ErrKeyNotFound when the row does not exist.
func checkUpdated(ctx context.Context, result sql.Result, exists func(ctx context.Context) error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return storageError(err, "failed to read affected rows")
	}
	if n > 0 {
		return nil
	}
	return exists(ctx)
}
