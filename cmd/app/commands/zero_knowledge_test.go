package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	cryptoService "github.com/allisson/kms/internal/crypto/service"
	zkDomain "github.com/allisson/kms/internal/zeroknowledge/domain"
	zkUsecase "github.com/allisson/kms/internal/zeroknowledge/usecase"
)

func newTestWrapper(t *testing.T) *zkUsecase.Wrapper {
	t.Helper()
	params := cryptoDomain.KDFParams{
		Algorithm: cryptoDomain.KDFArgon2id,
		Argon2:    &cryptoDomain.Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1},
		KeyLength: cryptoDomain.KeySize,
	}
	deriver, err := cryptoService.NewKeyDeriver(*params.Argon2)
	require.NoError(t, err)
	wrapper, err := zkUsecase.NewWrapper(deriver, cryptoService.NewAEADManager(), params)
	require.NoError(t, err)
	return wrapper
}

func TestRunZKEncryptDecrypt(t *testing.T) {
	logger := discardLogger()
	wrapper := newTestWrapper(t)
	password := []byte("client side password")

	var sealed bytes.Buffer
	stdio := IOTuple{Reader: strings.NewReader("diary entry\n"), Writer: &sealed}
	require.NoError(t, RunZKEncrypt(wrapper, logger, stdio, password))

	result, err := zkDomain.DecodeResult(bytes.TrimSpace(sealed.Bytes()))
	require.NoError(t, err)
	require.Equal(t, cryptoDomain.KDFArgon2id, result.KDF.Algorithm)
	require.NotContains(t, sealed.String(), "diary entry")

	t.Run("round-trip", func(t *testing.T) {
		var out bytes.Buffer
		stdio := IOTuple{Reader: bytes.NewReader(sealed.Bytes()), Writer: &out}
		require.NoError(t, RunZKDecrypt(wrapper, logger, stdio, password))
		require.Equal(t, "diary entry", out.String())
	})

	t.Run("wrong-password", func(t *testing.T) {
		var out bytes.Buffer
		stdio := IOTuple{Reader: bytes.NewReader(sealed.Bytes()), Writer: &out}
		err := RunZKDecrypt(wrapper, logger, stdio, []byte("wrong"))
		require.ErrorIs(t, err, ErrZeroKnowledgeDecrypt)
		require.Empty(t, out.String())
	})

	t.Run("malformed-result", func(t *testing.T) {
		var out bytes.Buffer
		stdio := IOTuple{Reader: strings.NewReader(`{"salt":"AA=="}`), Writer: &out}
		err := RunZKDecrypt(wrapper, logger, stdio, password)
		require.ErrorIs(t, err, zkDomain.ErrInvalidResult)
	})

	t.Run("empty-password", func(t *testing.T) {
		var out bytes.Buffer
		stdio := IOTuple{Reader: strings.NewReader("data"), Writer: &out}
		err := RunZKEncrypt(wrapper, logger, stdio, nil)
		require.ErrorIs(t, err, zkDomain.ErrEmptyPassword)
	})
}
