package domain

import (
	"github.com/allisson/kms/internal/errors"
)

// Key management error definitions.
var (
	// ErrAccessDenied indicates the AccessControlGate refused the operation.
	ErrAccessDenied = errors.Wrap(errors.ErrForbidden, "access denied")

	// ErrKeyNotFound indicates no live entry matches the requested name and version.
	ErrKeyNotFound = errors.Wrap(errors.ErrNotFound, "key not found")

	// ErrKeyAlreadyExists indicates a live entry already exists for the name.
	ErrKeyAlreadyExists = errors.Wrap(errors.ErrConflict, "key already exists")

	// ErrStorageUnavailable indicates the KeyStore failed. Reads may be retried.
	ErrStorageUnavailable = errors.Wrap(errors.ErrUnavailable, "key storage unavailable")

	// ErrNotInitialized indicates an operation was attempted before Initialize succeeded.
	ErrNotInitialized = errors.Wrap(errors.ErrUnavailable, "key management system not initialized")

	// ErrMasterKeyUnwrap indicates the master key could not be unwrapped with the configured
	// passphrase. It is fatal at startup.
	ErrMasterKeyUnwrap = errors.Wrap(errors.ErrInternal, "master key unwrap failed")

	// ErrReservedKeyName indicates a caller tried to manage the master key directly.
	ErrReservedKeyName = errors.Wrap(errors.ErrInvalidInput, "reserved key name")

	// ErrInvalidKeyName indicates the key name failed validation.
	ErrInvalidKeyName = errors.Wrap(errors.ErrInvalidInput, "invalid key name")

	// ErrInvalidCiphertextFormat indicates a managed ciphertext string could not be parsed.
	ErrInvalidCiphertextFormat = errors.Wrap(errors.ErrInvalidInput, "invalid managed ciphertext format")
)
