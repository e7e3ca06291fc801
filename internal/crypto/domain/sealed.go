package domain

// Sealed is the output of an AEAD encryption.
//
// Nonce and Tag are not secret and must travel with the ciphertext. The tag is kept
// apart from the ciphertext so that stores can persist the three parts in separate
// columns.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

// Combined returns nonce || ciphertext || tag as a single byte slice.
func (s *Sealed) Combined() []byte {
	out := make([]byte, 0, len(s.Nonce)+len(s.Ciphertext)+len(s.Tag))
	out = append(out, s.Nonce...)
	out = append(out, s.Ciphertext...)
	out = append(out, s.Tag...)
	return out
}

// SplitSealed parses the nonce || ciphertext || tag layout produced by Combined.
// Returns ErrDecryptionFailed when the input is too short to hold a nonce and a tag.
func SplitSealed(b []byte) (*Sealed, error) {
	if len(b) < NonceSize+TagSize {
		return nil, ErrDecryptionFailed
	}
	body := b[NonceSize : len(b)-TagSize]
	return &Sealed{
		Nonce:      append([]byte(nil), b[:NonceSize]...),
		Ciphertext: append([]byte(nil), body...),
		Tag:        append([]byte(nil), b[len(b)-TagSize:]...),
	}, nil
}
