// Package audit delivers key management audit records to durable writers without
// blocking the operations that produce them.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	apperrors "github.com/allisson/kms/internal/errors"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// SigningKeyPurpose is the sub key purpose the signing key is derived for.
const SigningKeyPurpose = "audit-record-signing-v1"

var (
	// ErrSigningKeyNotSet indicates Sign or Verify ran before SetKey.
	ErrSigningKeyNotSet = errors.New("audit signing key not set")

	// ErrSignatureInvalid indicates a record was altered after it was signed.
	ErrSignatureInvalid = apperrors.Wrap(apperrors.ErrInvalidInput, "audit record signature invalid")
)

// Signer computes HMAC-SHA256 signatures over audit records. The key is set once the
// master key is available, so records produced earlier stay unsigned.
type Signer struct {
	mu  sync.RWMutex
	key []byte
}

// NewSigner creates a Signer without a key.
func NewSigner() *Signer {
	return &Signer{}
}

// SetKey replaces the signing key with a copy of key.
func (s *Signer) SetKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cryptoDomain.Zero(s.key)
	s.key = append([]byte(nil), key...)
}

// HasKey reports whether a signing key is set.
func (s *Signer) HasKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.key) > 0
}

// Sign returns the 32-byte signature of record. The Signature field is not covered.
func (s *Signer) Sign(record *kmsDomain.AuditRecord) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.key) == 0 {
		return nil, ErrSigningKeyNotSet
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonicalize(record))
	return mac.Sum(nil), nil
}

// Verify checks record.Signature.
func (s *Signer) Verify(record *kmsDomain.AuditRecord) error {
	expected, err := s.Sign(record)
	if err != nil {
		return err
	}
	if !hmac.Equal(record.Signature, expected) {
		return ErrSignatureInvalid
	}
	return nil
}

// canonicalize encodes every signed field; variable-length fields are length-prefixed
// so that field boundaries cannot shift.
func canonicalize(record *kmsDomain.AuditRecord) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, record.ID[:]...)
	buf = appendLengthPrefixed(buf, []byte(record.Name))
	buf = binary.BigEndian.AppendUint64(buf, uint64(record.Version))
	buf = appendLengthPrefixed(buf, []byte(record.Requester))
	buf = appendLengthPrefixed(buf, []byte(record.Action))
	buf = appendLengthPrefixed(buf, []byte(record.Outcome))
	buf = appendLengthPrefixed(buf, []byte(record.Error))
	buf = binary.BigEndian.AppendUint64(buf, uint64(record.Timestamp.UnixNano()))
	return buf
}

func appendLengthPrefixed(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}
