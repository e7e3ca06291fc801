package usecase

import (
	"context"
	"time"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
	"github.com/allisson/kms/internal/metrics"
)

const metricsDomain = "kms"

// keyManagementSystemWithMetrics decorates KeyManagementSystem with metrics instrumentation.
type keyManagementSystemWithMetrics struct {
	next    KeyManagementSystem
	metrics metrics.BusinessMetrics
}

// NewKeyManagementSystemWithMetrics wraps a KeyManagementSystem with metrics recording.
func NewKeyManagementSystemWithMetrics(kms KeyManagementSystem, m metrics.BusinessMetrics) KeyManagementSystem {
	return &keyManagementSystemWithMetrics{
		next:    kms,
		metrics: m,
	}
}

func (k *keyManagementSystemWithMetrics) observe(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	k.metrics.RecordOperation(ctx, metricsDomain, operation, status)
	k.metrics.RecordDuration(ctx, metricsDomain, operation, time.Since(start), status)
}

// Initialize records metrics for initialization.
func (k *keyManagementSystemWithMetrics) Initialize(ctx context.Context) error {
	start := time.Now()
	err := k.next.Initialize(ctx)
	k.observe(ctx, "kms_initialize", start, err)
	return err
}

// CreateKey records metrics for key creation operations.
func (k *keyManagementSystemWithMetrics) CreateKey(
	ctx context.Context,
	name, requester string,
) (*kmsDomain.KeyMetadata, error) {
	start := time.Now()
	meta, err := k.next.CreateKey(ctx, name, requester)
	k.observe(ctx, "key_create", start, err)
	return meta, err
}

// GetKey records metrics for key read operations.
func (k *keyManagementSystemWithMetrics) GetKey(
	ctx context.Context,
	name string,
	version uint,
	requester string,
) (*kmsDomain.Key, error) {
	start := time.Now()
	key, err := k.next.GetKey(ctx, name, version, requester)
	k.observe(ctx, "key_get", start, err)
	return key, err
}

// RotateKey records metrics for key rotation operations.
func (k *keyManagementSystemWithMetrics) RotateKey(
	ctx context.Context,
	name, requester string,
) (*kmsDomain.KeyMetadata, error) {
	start := time.Now()
	meta, err := k.next.RotateKey(ctx, name, requester)
	k.observe(ctx, "key_rotate", start, err)
	return meta, err
}

// DeleteKey records metrics for key deletion operations.
func (k *keyManagementSystemWithMetrics) DeleteKey(
	ctx context.Context,
	name string,
	version uint,
	requester string,
) error {
	start := time.Now()
	err := k.next.DeleteKey(ctx, name, version, requester)
	k.observe(ctx, "key_delete", start, err)
	return err
}

// ListKeys records metrics for key listing operations.
func (k *keyManagementSystemWithMetrics) ListKeys(
	ctx context.Context,
	requester string,
) ([]*kmsDomain.KeyMetadata, error) {
	start := time.Now()
	keys, err := k.next.ListKeys(ctx, requester)
	k.observe(ctx, "key_list", start, err)
	return keys, err
}

// EncryptWithManagedKey records metrics for encryption operations.
func (k *keyManagementSystemWithMetrics) EncryptWithManagedKey(
	ctx context.Context,
	name string,
	plaintext []byte,
	requester string,
) (*kmsDomain.ManagedCiphertext, error) {
	start := time.Now()
	ct, err := k.next.EncryptWithManagedKey(ctx, name, plaintext, requester)
	k.observe(ctx, "key_encrypt", start, err)
	return ct, err
}

// DecryptWithManagedKey records metrics for decryption operations.
func (k *keyManagementSystemWithMetrics) DecryptWithManagedKey(
	ctx context.Context,
	ciphertext *kmsDomain.ManagedCiphertext,
	requester string,
) ([]byte, error) {
	start := time.Now()
	plaintext, err := k.next.DecryptWithManagedKey(ctx, ciphertext, requester)
	k.observe(ctx, "key_decrypt", start, err)
	return plaintext, err
}

// RotateExpired records metrics for rotation sweeps.
func (k *keyManagementSystemWithMetrics) RotateExpired(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := k.next.RotateExpired(ctx)
	k.observe(ctx, "rotation_sweep", start, err)
	return n, err
}

// DeriveSubKey records metrics for sub key derivation.
func (k *keyManagementSystemWithMetrics) DeriveSubKey(ctx context.Context, purpose string) ([]byte, error) {
	start := time.Now()
	key, err := k.next.DeriveSubKey(ctx, purpose)
	k.observe(ctx, "subkey_derive", start, err)
	return key, err
}
