package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/allisson/kms/internal/database"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// PostgreSQLKeyStore implements KeyStore for PostgreSQL.
//
// Schema: key_entries(name, version) primary key, BYTEA key material, JSONB metadata,
// TIMESTAMPTZ timestamps. See internal/database/migrations/postgresql.
type PostgreSQLKeyStore struct {
	db *sql.DB
}

// NewPostgreSQLKeyStore creates a new PostgreSQL key store.
func NewPostgreSQLKeyStore(db *sql.DB) *PostgreSQLKeyStore {
	return &PostgreSQLKeyStore{db: db}
}

// Put inserts a new entry. A (name, version) conflict returns ErrKeyAlreadyExists.
func (p *PostgreSQLKeyStore) Put(ctx context.Context, entry *kmsDomain.KeyEntry) error {
	querier := database.GetTx(ctx, p.db)

	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal key metadata: %w", err)
	}

	query := `INSERT INTO key_entries (` + keyEntryColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = querier.ExecContext(
		ctx,
		query,
		entry.Name,
		entry.Version,
		string(entry.Algorithm),
		entry.EncryptedKey,
		entry.Nonce,
		entry.Tag,
		string(entry.Status),
		metadata,
		entry.CreatedBy,
		entry.CreatedAt.UTC(),
		nullTime(entry.ExpiresAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s@%d", kmsDomain.ErrKeyAlreadyExists, entry.Name, entry.Version)
		}
		return storageError(err, "failed to create key entry")
	}
	return nil
}

// GetByNameVersion returns one entry regardless of its status.
func (p *PostgreSQLKeyStore) GetByNameVersion(
	ctx context.Context,
	name string,
	version uint,
) (*kmsDomain.KeyEntry, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + keyEntryColumns + ` FROM key_entries WHERE name = $1 AND version = $2`

	entry, err := scanKeyEntry(querier.QueryRowContext(ctx, query, name, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kmsDomain.ErrKeyNotFound
		}
		return nil, storageError(err, "failed to get key entry")
	}
	return entry, nil
}

// GetLatest returns the highest version of name regardless of its status. Inside a
// transaction the row is locked until commit.
func (p *PostgreSQLKeyStore) GetLatest(ctx context.Context, name string) (*kmsDomain.KeyEntry, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + keyEntryColumns + ` FROM key_entries
			  WHERE name = $1 ORDER BY version DESC LIMIT 1`
	if _, inTx := querier.(*sql.Tx); inTx {
		query += ` FOR UPDATE`
	}

	entry, err := scanKeyEntry(querier.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kmsDomain.ErrKeyNotFound
		}
		return nil, storageError(err, "failed to get latest key entry")
	}
	return entry, nil
}

// ListVersions returns every version of name ordered by version ascending.
func (p *PostgreSQLKeyStore) ListVersions(ctx context.Context, name string) ([]*kmsDomain.KeyEntry, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + keyEntryColumns + ` FROM key_entries WHERE name = $1 ORDER BY version ASC`

	return queryKeyEntries(ctx, querier, query, name)
}

// ListAll returns metadata for every entry ordered by name and version.
func (p *PostgreSQLKeyStore) ListAll(ctx context.Context) ([]*kmsDomain.KeyMetadata, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + keyEntryColumns + ` FROM key_entries ORDER BY name ASC, version ASC`

	entries, err := queryKeyEntries(ctx, querier, query)
	if err != nil {
		return nil, err
	}
	return toMetadata(entries), nil
}

// UpdateStatus sets the status of one version, or of every non-deleted version when
// version is zero.
func (p *PostgreSQLKeyStore) UpdateStatus(
	ctx context.Context,
	name string,
	version uint,
	status kmsDomain.KeyStatus,
) error {
	querier := database.GetTx(ctx, p.db)

	if version == 0 {
		query := `UPDATE key_entries SET status = $1 WHERE name = $2 AND status <> $3`
		if _, err := querier.ExecContext(ctx, query, string(status), name, string(kmsDomain.KeyStatusDeleted)); err != nil {
			return storageError(err, "failed to update key entry status")
		}
		return nil
	}

	query := `UPDATE key_entries SET status = $1 WHERE name = $2 AND version = $3`
	result, err := querier.ExecContext(ctx, query, string(status), name, version)
	if err != nil {
		return storageError(err, "failed to update key entry status")
	}
	return checkUpdated(ctx, result, func(ctx context.Context) error {
		_, err := p.GetByNameVersion(ctx, name, version)
		return err
	})
}
