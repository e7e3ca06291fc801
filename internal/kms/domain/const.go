// Package domain defines the key management domain models: versioned key entries,
// their metadata, audit records and managed ciphertexts.
package domain

import "time"

const (
	// MasterKeyName is the reserved name of the key that wraps every managed key.
	MasterKeyName = "master"

	// SystemRequester identifies operations initiated by the KMS itself (bootstrap, rotation sweep).
	SystemRequester = "system"

	// WildcardResource addresses every key for administrative checks such as listing.
	WildcardResource = "*"

	// DefaultKeyTTL is how long a managed key version stays active before the sweep rotates it.
	DefaultKeyTTL = 90 * 24 * time.Hour

	// MaxKeyNameLength matches the VARCHAR(255) column in the SQL stores.
	MaxKeyNameLength = 255
)

// Master key metadata fields.
const (
	MetadataSalt        = "salt"
	MetadataKDF         = "kdf"
	MetadataMemoryKiB   = "argon2_memory_kib"
	MetadataIterations  = "argon2_iterations"
	MetadataParallelism = "argon2_parallelism"
)

// Action is the operation a requester attempts on a key.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionRotate  Action = "rotate"
	ActionDelete  Action = "delete"
	ActionList    Action = "list"
	ActionEncrypt Action = "encrypt"
	ActionDecrypt Action = "decrypt"
)
