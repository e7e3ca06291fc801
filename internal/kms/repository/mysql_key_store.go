package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/allisson/kms/internal/database"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// MySQLKeyStore implements KeyStore for MySQL.
//
// The connection string must enable parseTime so DATETIME columns scan into time.Time.
type MySQLKeyStore struct {
	db *sql.DB
}

// NewMySQLKeyStore creates a new MySQL key store.
func NewMySQLKeyStore(db *sql.DB) *MySQLKeyStore {
	return &MySQLKeyStore{db: db}
}

// Put inserts a new entry. A (name, version) conflict returns ErrKeyAlreadyExists.
func (m *MySQLKeyStore) Put(ctx context.Context, entry *kmsDomain.KeyEntry) error {
	querier := database.GetTx(ctx, m.db)

	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal key metadata: %w", err)
	}

	query := `INSERT INTO key_entries (` + keyEntryColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

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
		// Duplicate entry (MySQL error number 1062)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return fmt.Errorf("%w: %s@%d", kmsDomain.ErrKeyAlreadyExists, entry.Name, entry.Version)
		}
		return storageError(err, "failed to create key entry")
	}
	return nil
}

// GetByNameVersion returns one entry regardless of its status.
func (m *MySQLKeyStore) GetByNameVersion(
	ctx context.Context,
	name string,
	version uint,
) (*kmsDomain.KeyEntry, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + keyEntryColumns + ` FROM key_entries WHERE name = ? AND version = ?`

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
func (m *MySQLKeyStore) GetLatest(ctx context.Context, name string) (*kmsDomain.KeyEntry, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + keyEntryColumns + ` FROM key_entries
			  WHERE name = ? ORDER BY version DESC LIMIT 1`
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
func (m *MySQLKeyStore) ListVersions(ctx context.Context, name string) ([]*kmsDomain.KeyEntry, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + keyEntryColumns + ` FROM key_entries WHERE name = ? ORDER BY version ASC`

	return queryKeyEntries(ctx, querier, query, name)
}

// ListAll returns metadata for every entry ordered by name and version.
func (m *MySQLKeyStore) ListAll(ctx context.Context) ([]*kmsDomain.KeyMetadata, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + keyEntryColumns + ` FROM key_entries ORDER BY name ASC, version ASC`

	entries, err := queryKeyEntries(ctx, querier, query)
	if err != nil {
		return nil, err
	}
	return toMetadata(entries), nil
}

// UpdateStatus sets the status of one version, or of every non-deleted version when
// version is zero.
func (m *MySQLKeyStore) UpdateStatus(
	ctx context.Context,
	name string,
	version uint,
	status kmsDomain.KeyStatus,
) error {
	querier := database.GetTx(ctx, m.db)

	if version == 0 {
		query := `UPDATE key_entries SET status = ? WHERE name = ? AND status <> ?`
		if _, err := querier.ExecContext(ctx, query, string(status), name, string(kmsDomain.KeyStatusDeleted)); err != nil {
			return storageError(err, "failed to update key entry status")
		}
		return nil
	}

	query := `UPDATE key_entries SET status = ? WHERE name = ? AND version = ?`
	result, err := querier.ExecContext(ctx, query, string(status), name, version)
	if err != nil {
		return storageError(err, "failed to update key entry status")
	}
	// MySQL reports changed rows, so zero can also mean the status was already set.
	return checkUpdated(ctx, result, func(ctx context.Context) error {
		_, err := m.GetByNameVersion(ctx, name, version)
		return err
	})
}
