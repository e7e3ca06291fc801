// Package repository implements KeyStore persistence for the key management system.
//
// Three implementations are provided:
//   - MemoryKeyStore: process-local store with its own transaction manager, used by
//     tests and the "memory" driver
//   - PostgreSQLKeyStore: BYTEA key material and JSONB metadata
//   - MySQLKeyStore: VARBINARY key material and JSON metadata
//
// The SQL stores are transaction-aware through database.GetTx and are paired with
// database.NewTxManager.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

type memoryTxKey struct{}

// memoryTx collects writes that are applied atomically on commit.
type memoryTx struct {
	store *MemoryKeyStore
	ops   []func(entries map[string][]*kmsDomain.KeyEntry) error
}

// MemoryKeyStore keeps key entries in memory, ordered by version per name.
type MemoryKeyStore struct {
	mu      sync.RWMutex
	entries map[string][]*kmsDomain.KeyEntry
}

// NewMemoryKeyStore creates an empty store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{entries: make(map[string][]*kmsDomain.KeyEntry)}
}

// WithTx runs fn with writes staged in a transaction. Writes are applied under the
// store lock only when fn succeeds and every write is valid; otherwise nothing is
// applied. Reads inside fn observe committed state.
func (s *MemoryKeyStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok && tx.store == s {
		return fn(ctx)
	}

	tx := &memoryTx{store: s}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := make(map[string][]*kmsDomain.KeyEntry, len(s.entries))
	for name, versions := range s.entries {
		working[name] = versions
	}
	for _, op := range tx.ops {
		if err := op(working); err != nil {
			return err
		}
	}
	s.entries = working
	return nil
}

// apply runs op inside the current transaction, or immediately when there is none.
func (s *MemoryKeyStore) apply(ctx context.Context, op func(entries map[string][]*kmsDomain.KeyEntry) error) error {
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok && tx.store == s {
		tx.ops = append(tx.ops, op)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return op(s.entries)
}

// Put inserts a new entry.
func (s *MemoryKeyStore) Put(ctx context.Context, entry *kmsDomain.KeyEntry) error {
	e := entry.Clone()
	return s.apply(ctx, func(entries map[string][]*kmsDomain.KeyEntry) error {
		versions := entries[e.Name]
		for _, existing := range versions {
			if existing.Version == e.Version {
				return fmt.Errorf("%w: %s@%d", kmsDomain.ErrKeyAlreadyExists, e.Name, e.Version)
			}
		}

		updated := make([]*kmsDomain.KeyEntry, 0, len(versions)+1)
		updated = append(updated, versions...)
		updated = append(updated, e)
		sort.Slice(updated, func(i, j int) bool { return updated[i].Version < updated[j].Version })
		entries[e.Name] = updated
		return nil
	})
}

// GetByNameVersion returns one entry regardless of its status.
func (s *MemoryKeyStore) GetByNameVersion(
	_ context.Context,
	name string,
	version uint,
) (*kmsDomain.KeyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries[name] {
		if e.Version == version {
			return e.Clone(), nil
		}
	}
	return nil, kmsDomain.ErrKeyNotFound
}

// GetLatest returns the highest version of name regardless of its status.
func (s *MemoryKeyStore) GetLatest(_ context.Context, name string) (*kmsDomain.KeyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.entries[name]
	if len(versions) == 0 {
		return nil, kmsDomain.ErrKeyNotFound
	}
	return versions[len(versions)-1].Clone(), nil
}

// ListVersions returns every version of name ordered by version ascending.
func (s *MemoryKeyStore) ListVersions(_ context.Context, name string) ([]*kmsDomain.KeyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.entries[name]
	out := make([]*kmsDomain.KeyEntry, 0, len(versions))
	for _, e := range versions {
		out = append(out, e.Clone())
	}
	return out, nil
}

// ListAll returns metadata for every entry ordered by name and version.
func (s *MemoryKeyStore) ListAll(_ context.Context) ([]*kmsDomain.KeyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*kmsDomain.KeyMetadata, 0)
	for _, name := range names {
		for _, e := range s.entries[name] {
			out = append(out, e.ToMetadata())
		}
	}
	return out, nil
}

// UpdateStatus sets the status of one version, or of every non-deleted version when
// version is zero. Updating a missing version returns ErrKeyNotFound.
func (s *MemoryKeyStore) UpdateStatus(
	ctx context.Context,
	name string,
	version uint,
	status kmsDomain.KeyStatus,
) error {
	return s.apply(ctx, func(entries map[string][]*kmsDomain.KeyEntry) error {
		versions := entries[name]
		updated := make([]*kmsDomain.KeyEntry, len(versions))
		found := false
		for i, e := range versions {
			updated[i] = e
			if (version == 0 && e.IsLive()) || e.Version == version {
				c := e.Clone()
				c.Status = status
				updated[i] = c
				found = true
			}
		}
		if version != 0 && !found {
			return fmt.Errorf("%w: %s@%d", kmsDomain.ErrKeyNotFound, name, version)
		}
		entries[name] = updated
		return nil
	})
}
