// Package mocks provides mock implementations of the key management interfaces for testing.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// MockAccessControlGate is a mock implementation of AccessControlGate.
type MockAccessControlGate struct {
	mock.Mock
}

// Check mocks the Check method of AccessControlGate.
func (m *MockAccessControlGate) Check(
	ctx context.Context,
	resource string,
	action kmsDomain.Action,
	requester string,
) bool {
	args := m.Called(ctx, resource, action, requester)
	return args.Bool(0)
}

// MockAuditSink is a mock implementation of AuditSink.
type MockAuditSink struct {
	mock.Mock
}

// Record mocks the Record method of AuditSink.
func (m *MockAuditSink) Record(ctx context.Context, record kmsDomain.AuditRecord) {
	m.Called(ctx, record)
}

// MockPassphraseSource is a mock implementation of PassphraseSource.
type MockPassphraseSource struct {
	mock.Mock
}

// Passphrase mocks the Passphrase method of PassphraseSource.
func (m *MockPassphraseSource) Passphrase(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockKeyManagementSystem is a mock implementation of KeyManagementSystem.
type MockKeyManagementSystem struct {
	mock.Mock
}

// Initialize mocks the Initialize method of KeyManagementSystem.
func (m *MockKeyManagementSystem) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// CreateKey mocks the CreateKey method of KeyManagementSystem.
func (m *MockKeyManagementSystem) CreateKey(
	ctx context.Context,
	name, requester string,
) (*kmsDomain.KeyMetadata, error) {
	args := m.Called(ctx, name, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kmsDomain.KeyMetadata), args.Error(1)
}

// GetKey mocks the GetKey method of KeyManagementSystem.
func (m *MockKeyManagementSystem) GetKey(
	ctx context.Context,
	name string,
	version uint,
	requester string,
) (*kmsDomain.Key, error) {
	args := m.Called(ctx, name, version, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kmsDomain.Key), args.Error(1)
}

// RotateKey mocks the RotateKey method of KeyManagementSystem.
func (m *MockKeyManagementSystem) RotateKey(
	ctx context.Context,
	name, requester string,
) (*kmsDomain.KeyMetadata, error) {
	args := m.Called(ctx, name, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kmsDomain.KeyMetadata), args.Error(1)
}

// DeleteKey mocks the DeleteKey method of KeyManagementSystem.
func (m *MockKeyManagementSystem) DeleteKey(
	ctx context.Context,
	name string,
	version uint,
	requester string,
) error {
	args := m.Called(ctx, name, version, requester)
	return args.Error(0)
}

// ListKeys mocks the ListKeys method of KeyManagementSystem.
func (m *MockKeyManagementSystem) ListKeys(ctx context.Context, requester string) ([]*kmsDomain.KeyMetadata, error) {
	args := m.Called(ctx, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*kmsDomain.KeyMetadata), args.Error(1)
}

// EncryptWithManagedKey mocks the EncryptWithManagedKey method of KeyManagementSystem.
func (m *MockKeyManagementSystem) EncryptWithManagedKey(
	ctx context.Context,
	name string,
	plaintext []byte,
	requester string,
) (*kmsDomain.ManagedCiphertext, error) {
	args := m.Called(ctx, name, plaintext, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kmsDomain.ManagedCiphertext), args.Error(1)
}

// DecryptWithManagedKey mocks the DecryptWithManagedKey method of KeyManagementSystem.
func (m *MockKeyManagementSystem) DecryptWithManagedKey(
	ctx context.Context,
	ciphertext *kmsDomain.ManagedCiphertext,
	requester string,
) ([]byte, error) {
	args := m.Called(ctx, ciphertext, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// RotateExpired mocks the RotateExpired method of KeyManagementSystem.
func (m *MockKeyManagementSystem) RotateExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// DeriveSubKey mocks the DeriveSubKey method of KeyManagementSystem.
func (m *MockKeyManagementSystem) DeriveSubKey(ctx context.Context, purpose string) ([]byte, error) {
	args := m.Called(ctx, purpose)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
