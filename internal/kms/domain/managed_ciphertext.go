package domain

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
)

// ManagedCiphertext is a payload sealed under a managed key version. It carries the key
// name and version so decryption can find the right key after rotations.
//
// The string form is "name:version:base64(nonce||ciphertext||tag)". Key names cannot
// contain ':' so the first two separators are unambiguous.
type ManagedCiphertext struct {
	Name    string
	Version uint
	Sealed  cryptoDomain.Sealed
}

// ParseManagedCiphertext parses the string form produced by String.
func ParseManagedCiphertext(content string) (*ManagedCiphertext, error) {
	parts := strings.SplitN(content, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf(
			"%w: expected format 'name:version:ciphertext', got %d parts",
			ErrInvalidCiphertextFormat,
			len(parts),
		)
	}

	if parts[0] == "" {
		return nil, fmt.Errorf("%w: empty key name", ErrInvalidCiphertextFormat)
	}

	version, err := strconv.ParseUint(parts[1], 10, 0)
	if err != nil || version == 0 {
		return nil, fmt.Errorf("%w: invalid version %q", ErrInvalidCiphertextFormat, parts[1])
	}

	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertextFormat, err)
	}

	sealed, err := cryptoDomain.SplitSealed(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: payload too short", ErrInvalidCiphertextFormat)
	}

	return &ManagedCiphertext{
		Name:    parts[0],
		Version: uint(version),
		Sealed:  *sealed,
	}, nil
}

// String serializes the ciphertext to "name:version:base64(nonce||ciphertext||tag)".
func (mc *ManagedCiphertext) String() string {
	return fmt.Sprintf(
		"%s:%d:%s",
		mc.Name,
		mc.Version,
		base64.StdEncoding.EncodeToString(mc.Sealed.Combined()),
	)
}
