package domain

import (
	"maps"
	"time"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
)

// KeyStatus is the lifecycle state of a key version.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusInactive KeyStatus = "inactive"
	KeyStatusDeleted  KeyStatus = "deleted"
)

// KeyEntry is one persisted version of a named key. The key material is stored wrapped;
// only the nonce and tag needed to unwrap it travel alongside.
//
// Entries are never physically removed. Status moves active -> inactive on rotation
// and * -> deleted on deletion.
type KeyEntry struct {
	Name         string
	Version      uint
	Algorithm    cryptoDomain.Algorithm
	EncryptedKey []byte
	Nonce        []byte
	Tag          []byte
	Status       KeyStatus
	Metadata     map[string]string
	CreatedBy    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// IsLive reports whether the entry has not been deleted.
func (e *KeyEntry) IsLive() bool {
	return e.Status != KeyStatusDeleted
}

// IsExpired reports whether the entry has an expiry and it is at or before now.
func (e *KeyEntry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}

// Sealed returns the wrapped key material in the shape the AEAD ciphers expect.
func (e *KeyEntry) Sealed() *cryptoDomain.Sealed {
	return &cryptoDomain.Sealed{
		Ciphertext: e.EncryptedKey,
		Nonce:      e.Nonce,
		Tag:        e.Tag,
	}
}

// Clone returns a deep copy so that cached and stored entries cannot be mutated
// through a returned pointer.
func (e *KeyEntry) Clone() *KeyEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.EncryptedKey = append([]byte(nil), e.EncryptedKey...)
	c.Nonce = append([]byte(nil), e.Nonce...)
	c.Tag = append([]byte(nil), e.Tag...)
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}

// ToMetadata strips the key material.
func (e *KeyEntry) ToMetadata() *KeyMetadata {
	return &KeyMetadata{
		Name:      e.Name,
		Version:   e.Version,
		Algorithm: e.Algorithm,
		Status:    e.Status,
		CreatedBy: e.CreatedBy,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

// KeyMetadata describes a key version without any key material.
type KeyMetadata struct {
	Name      string                 `json:"name"`
	Version   uint                   `json:"version"`
	Algorithm cryptoDomain.Algorithm `json:"algorithm"`
	Status    KeyStatus              `json:"status"`
	CreatedBy string                 `json:"created_by"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// Key is an unwrapped key version returned by GetKey. Callers own Material and
// should Zero it when done.
type Key struct {
	KeyMetadata
	Material []byte
}

// Zero clears the plaintext key material.
func (k *Key) Zero() {
	if k != nil {
		cryptoDomain.Zero(k.Material)
	}
}
