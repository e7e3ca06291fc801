// Package usecase implements the key management system: versioned key lifecycle on top
// of an abstract KeyStore, guarded by an AccessControlGate and traced through an
// AuditSink.
package usecase

import (
	"context"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// KeyStore persists key entries. Implementations participate in transactions started by
// the TxManager they are paired with.
//
// Implementations must return kmsDomain.ErrKeyNotFound for missing entries,
// kmsDomain.ErrKeyAlreadyExists for a duplicate (name, version), and wrap any other
// failure with kmsDomain.ErrStorageUnavailable.
type KeyStore interface {
	// Put inserts a new entry.
	Put(ctx context.Context, entry *kmsDomain.KeyEntry) error

	// GetByNameVersion returns one entry regardless of its status.
	GetByNameVersion(ctx context.Context, name string, version uint) (*kmsDomain.KeyEntry, error)

	// GetLatest returns the highest version of name regardless of its status. Inside a
	// transaction SQL stores lock the returned row; that does not stop another process
	// from inserting latest+1, so Put must report such a conflict as ErrKeyAlreadyExists.
	GetLatest(ctx context.Context, name string) (*kmsDomain.KeyEntry, error)

	// ListVersions returns every version of name ordered by version ascending.
	ListVersions(ctx context.Context, name string) ([]*kmsDomain.KeyEntry, error)

	// ListAll returns metadata for every entry ordered by name and version.
	ListAll(ctx context.Context) ([]*kmsDomain.KeyMetadata, error)

	// UpdateStatus sets the status of one version, or of every non-deleted version when
	// version is zero.
	UpdateStatus(ctx context.Context, name string, version uint, status kmsDomain.KeyStatus) error
}

// KeyCache is a versioned read-through cache in front of the KeyStore.
type KeyCache interface {
	// Get returns a copy of the entry, loading it from the store on a miss. Version zero
	// resolves the latest version.
	Get(ctx context.Context, name string, version uint) (*kmsDomain.KeyEntry, error)

	// Put stores a copy of entry.
	Put(name string, version uint, entry *kmsDomain.KeyEntry)

	// Invalidate drops one version, or every version of name when version is zero.
	Invalidate(name string, version uint)
}

// AccessControlGate authorizes operations. The wildcard resource "*" addresses
// administrative scope.
type AccessControlGate interface {
	Check(ctx context.Context, resource string, action kmsDomain.Action, requester string) bool
}

// AuditSink records audit records. It must never block and has no failure mode visible
// to the caller.
type AuditSink interface {
	Record(ctx context.Context, record kmsDomain.AuditRecord)
}

// PassphraseSource supplies the long-term master passphrase. Callers zero the returned
// slice after use.
type PassphraseSource interface {
	Passphrase(ctx context.Context) ([]byte, error)
}

// KeyManagementSystem manages the lifecycle of named, versioned keys.
//
// Version zero means "current active version" for GetKey and "every version" for
// DeleteKey. Every public operation is gated and audited.
type KeyManagementSystem interface {
	// Initialize bootstraps or verifies the master key, preloads active keys into the
	// cache and runs one rotation sweep. Other operations fail until it succeeds.
	Initialize(ctx context.Context) error

	// CreateKey creates version 1 of a new key, or latest+1 when every earlier version
	// was deleted.
	CreateKey(ctx context.Context, name, requester string) (*kmsDomain.KeyMetadata, error)

	// GetKey returns the unwrapped key material of a version.
	GetKey(ctx context.Context, name string, version uint, requester string) (*kmsDomain.Key, error)

	// RotateKey creates a new active version and marks the previous one inactive.
	RotateKey(ctx context.Context, name, requester string) (*kmsDomain.KeyMetadata, error)

	// DeleteKey soft deletes one version, or every version when version is zero.
	DeleteKey(ctx context.Context, name string, version uint, requester string) error

	// ListKeys returns metadata of every live key version.
	ListKeys(ctx context.Context, requester string) ([]*kmsDomain.KeyMetadata, error)

	// EncryptWithManagedKey seals plaintext under the active version of name.
	EncryptWithManagedKey(
		ctx context.Context,
		name string,
		plaintext []byte,
		requester string,
	) (*kmsDomain.ManagedCiphertext, error)

	// DecryptWithManagedKey opens a ciphertext produced by EncryptWithManagedKey.
	DecryptWithManagedKey(
		ctx context.Context,
		ciphertext *kmsDomain.ManagedCiphertext,
		requester string,
	) ([]byte, error)

	// RotateExpired rotates every active key past its expiry and returns how many were
	// rotated.
	RotateExpired(ctx context.Context) (int, error)

	// DeriveSubKey derives a purpose-bound key from the master key, for example the
	// audit signing key.
	DeriveSubKey(ctx context.Context, purpose string) ([]byte, error)
}
