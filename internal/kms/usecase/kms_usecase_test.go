package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	cryptoService "github.com/allisson/kms/internal/crypto/service"
	"github.com/allisson/kms/internal/kms/cache"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
	"github.com/allisson/kms/internal/kms/repository"
	"github.com/allisson/kms/internal/kms/usecase/mocks"
)

var testArgon2 = cryptoDomain.Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu      sync.Mutex
	records []kmsDomain.AuditRecord
}

func (s *recordingSink) Record(_ context.Context, record kmsDomain.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *recordingSink) all() []kmsDomain.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kmsDomain.AuditRecord(nil), s.records...)
}

func (s *recordingSink) last() kmsDomain.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[len(s.records)-1]
}

type allowAll struct{}

func (allowAll) Check(context.Context, string, kmsDomain.Action, string) bool { return true }

// faultyStore fails UpdateStatus or the single-entry reads on demand.
type faultyStore struct {
	*repository.MemoryKeyStore
	failUpdates atomic.Bool
	failReads   atomic.Bool
}

func (f *faultyStore) GetLatest(ctx context.Context, name string) (*kmsDomain.KeyEntry, error) {
	if f.failReads.Load() {
		return nil, kmsDomain.ErrStorageUnavailable
	}
	return f.MemoryKeyStore.GetLatest(ctx, name)
}

func (f *faultyStore) GetByNameVersion(ctx context.Context, name string, version uint) (*kmsDomain.KeyEntry, error) {
	if f.failReads.Load() {
		return nil, kmsDomain.ErrStorageUnavailable
	}
	return f.MemoryKeyStore.GetByNameVersion(ctx, name, version)
}

func (f *faultyStore) UpdateStatus(
	ctx context.Context,
	name string,
	version uint,
	status kmsDomain.KeyStatus,
) error {
	if f.failUpdates.Load() {
		return kmsDomain.ErrStorageUnavailable
	}
	return f.MemoryKeyStore.UpdateStatus(ctx, name, version, status)
}

// racingStore lets another instance sharing the store rotate name right before the
// first Put, as a second process would.
type racingStore struct {
	*repository.MemoryKeyStore
	rival func()
	once  sync.Once
}

func (r *racingStore) Put(ctx context.Context, entry *kmsDomain.KeyEntry) error {
	r.once.Do(r.rival)
	return r.MemoryKeyStore.Put(ctx, entry)
}

type testEnv struct {
	kms   KeyManagementSystem
	store *repository.MemoryKeyStore
	sink  *recordingSink
	clock *fakeClock
}

type envOption func(*Dependencies)

func withGate(gate AccessControlGate) envOption {
	return func(d *Dependencies) { d.Gate = gate }
}

func withAudit(sink AuditSink) envOption {
	return func(d *Dependencies) { d.Audit = sink }
}

func withStore(store KeyStore) envOption {
	return func(d *Dependencies) { d.Store = store }
}

func newEnv(
	t *testing.T,
	store *repository.MemoryKeyStore,
	clock *fakeClock,
	passphrase string,
	opts ...envOption,
) *testEnv {
	t.Helper()

	if store == nil {
		store = repository.NewMemoryKeyStore()
	}
	if clock == nil {
		clock = newFakeClock()
	}

	deriver, err := cryptoService.NewKeyDeriver(testArgon2)
	require.NoError(t, err)
	aeadManager := cryptoService.NewAEADManager()
	sink := &recordingSink{}

	deps := Dependencies{
		Store:       store,
		TxManager:   store,
		Gate:        allowAll{},
		Audit:       sink,
		Passphrase:  NewStaticPassphrase([]byte(passphrase)),
		KeyDeriver:  deriver,
		KeyWrapper:  cryptoService.NewKeyWrapper(aeadManager),
		AEADManager: aeadManager,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	deps.Cache = cache.New(deps.Store, time.Minute)

	kms, err := NewKeyManagementSystem(deps, Config{
		MasterKDF:   testArgon2,
		LockStripes: 8,
		Now:         clock.Now,
	})
	require.NoError(t, err)

	return &testEnv{kms: kms, store: store, sink: sink, clock: clock}
}

func newInitializedEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newEnv(t, nil, nil, "correct horse battery staple")
	require.NoError(t, env.kms.Initialize(context.Background()))
	return env
}

func activeVersions(t *testing.T, store KeyStore, name string) []uint {
	t.Helper()
	versions, err := store.ListVersions(context.Background(), name)
	require.NoError(t, err)

	var active []uint
	for _, v := range versions {
		if v.Status == kmsDomain.KeyStatusActive {
			active = append(active, v.Version)
		}
	}
	return active
}

func TestNewKeyManagementSystem(t *testing.T) {
	t.Run("missing dependency", func(t *testing.T) {
		_, err := NewKeyManagementSystem(Dependencies{}, Config{})
		assert.Error(t, err)
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		store := repository.NewMemoryKeyStore()
		aeadManager := cryptoService.NewAEADManager()
		deriver, err := cryptoService.NewKeyDeriver(testArgon2)
		require.NoError(t, err)

		_, err = NewKeyManagementSystem(Dependencies{
			Store:       store,
			TxManager:   store,
			Cache:       cache.New(store, 0),
			Gate:        allowAll{},
			Audit:       &recordingSink{},
			Passphrase:  NewStaticPassphrase([]byte("pw")),
			KeyDeriver:  deriver,
			KeyWrapper:  cryptoService.NewKeyWrapper(aeadManager),
			AEADManager: aeadManager,
		}, Config{Algorithm: "rot13"})
		assert.ErrorIs(t, err, cryptoDomain.ErrUnsupportedAlgorithm)
	})
}

func TestKeyManagementSystem_NotInitialized(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, nil, nil, "passphrase")

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrNotInitialized)

	_, err = env.kms.RotateExpired(ctx)
	assert.ErrorIs(t, err, kmsDomain.ErrNotInitialized)

	_, err = env.kms.DeriveSubKey(ctx, "audit")
	assert.ErrorIs(t, err, kmsDomain.ErrNotInitialized)

	rec := env.sink.last()
	assert.Equal(t, kmsDomain.ActionCreate, rec.Action)
	assert.Equal(t, kmsDomain.OutcomeFailure, rec.Outcome)
}

func TestKeyManagementSystem_Initialize(t *testing.T) {
	ctx := context.Background()

	t.Run("bootstraps master key", func(t *testing.T) {
		env := newInitializedEnv(t)

		master, err := env.store.GetByNameVersion(ctx, kmsDomain.MasterKeyName, 1)
		require.NoError(t, err)
		assert.Equal(t, kmsDomain.KeyStatusActive, master.Status)
		assert.Equal(t, string(cryptoDomain.KDFArgon2id), master.Metadata[kmsDomain.MetadataKDF])
		assert.NotEmpty(t, master.Metadata[kmsDomain.MetadataSalt])
		assert.Equal(t, "64", master.Metadata[kmsDomain.MetadataMemoryKiB])
		assert.Equal(t, kmsDomain.SystemRequester, master.CreatedBy)
		assert.True(t, master.ExpiresAt.IsZero())
	})

	t.Run("restart with same passphrase", func(t *testing.T) {
		store := repository.NewMemoryKeyStore()
		first := newEnv(t, store, nil, "passphrase")
		require.NoError(t, first.kms.Initialize(ctx))
		created, err := first.kms.CreateKey(ctx, "api", "alice")
		require.NoError(t, err)
		before, err := first.kms.GetKey(ctx, "api", 0, "alice")
		require.NoError(t, err)

		second := newEnv(t, store, nil, "passphrase")
		require.NoError(t, second.kms.Initialize(ctx))
		after, err := second.kms.GetKey(ctx, "api", created.Version, "alice")
		require.NoError(t, err)
		assert.Equal(t, before.Material, after.Material)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		store := repository.NewMemoryKeyStore()
		require.NoError(t, newEnv(t, store, nil, "passphrase").kms.Initialize(ctx))

		env := newEnv(t, store, nil, "not the passphrase")
		err := env.kms.Initialize(ctx)
		assert.ErrorIs(t, err, kmsDomain.ErrMasterKeyUnwrap)
		assert.ErrorIs(t, err, cryptoDomain.ErrDecryptionFailed)

		_, err = env.kms.CreateKey(ctx, "api", "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrNotInitialized)
	})

	t.Run("passphrase source failure", func(t *testing.T) {
		source := &mocks.MockPassphraseSource{}
		source.On("Passphrase", mock.Anything).Return(nil, errors.New("vault sealed"))

		env := newEnv(t, nil, nil, "", func(d *Dependencies) { d.Passphrase = source })
		err := env.kms.Initialize(ctx)
		assert.ErrorContains(t, err, "vault sealed")
		source.AssertExpectations(t)
	})

	t.Run("preloads active keys", func(t *testing.T) {
		store := repository.NewMemoryKeyStore()
		first := newEnv(t, store, nil, "passphrase")
		require.NoError(t, first.kms.Initialize(ctx))
		_, err := first.kms.CreateKey(ctx, "api", "alice")
		require.NoError(t, err)

		second := newEnv(t, store, nil, "passphrase")
		require.NoError(t, second.kms.Initialize(ctx))

		// reads are served from the cache even if the store row changes afterwards
		require.NoError(t, store.UpdateStatus(ctx, "api", 1, kmsDomain.KeyStatusInactive))
		key, err := second.kms.GetKey(ctx, "api", 0, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint(1), key.Version)
	})
}

func TestKeyManagementSystem_DatabasePasswordLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)
	const name = "payments/db-password"

	meta, err := env.kms.CreateKey(ctx, name, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(1), meta.Version)
	assert.Equal(t, kmsDomain.KeyStatusActive, meta.Status)
	assert.Equal(t, "alice", meta.CreatedBy)
	assert.Equal(t, meta.CreatedAt.Add(kmsDomain.DefaultKeyTTL), meta.ExpiresAt)

	key, err := env.kms.GetKey(ctx, name, 0, "alice")
	require.NoError(t, err)
	assert.Len(t, key.Material, cryptoDomain.KeySize)

	ct1, err := env.kms.EncryptWithManagedKey(ctx, name, []byte("s3cret"), "app")
	require.NoError(t, err)
	assert.Equal(t, uint(1), ct1.Version)

	parsed, err := kmsDomain.ParseManagedCiphertext(ct1.String())
	require.NoError(t, err)
	plaintext, err := env.kms.DecryptWithManagedKey(ctx, parsed, "app")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), plaintext)

	rotated, err := env.kms.RotateKey(ctx, name, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(2), rotated.Version)

	old, err := env.kms.GetKey(ctx, name, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, kmsDomain.KeyStatusInactive, old.Status)
	assert.Equal(t, key.Material, old.Material)

	plaintext, err = env.kms.DecryptWithManagedKey(ctx, ct1, "app")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), plaintext)

	ct2, err := env.kms.EncryptWithManagedKey(ctx, name, []byte("s3cret"), "app")
	require.NoError(t, err)
	assert.Equal(t, uint(2), ct2.Version)

	keys, err := env.kms.ListKeys(ctx, "admin")
	require.NoError(t, err)
	require.Len(t, keys, 2)

	require.NoError(t, env.kms.DeleteKey(ctx, name, 0, "alice"))

	_, err = env.kms.GetKey(ctx, name, 0, "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)
	_, err = env.kms.DecryptWithManagedKey(ctx, ct1, "app")
	assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)

	recreated, err := env.kms.CreateKey(ctx, name, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(3), recreated.Version, "versions are never reused")
}

func TestKeyManagementSystem_CreateKey(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)

	tests := []struct {
		name    string
		keyName string
		wantErr error
	}{
		{"duplicate", "api", kmsDomain.ErrKeyAlreadyExists},
		{"reserved", kmsDomain.MasterKeyName, kmsDomain.ErrReservedKeyName},
		{"empty", "", kmsDomain.ErrInvalidKeyName},
		{"whitespace", "my key", kmsDomain.ErrInvalidKeyName},
		{"leading slash", "/api", kmsDomain.ErrInvalidKeyName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.kms.CreateKey(ctx, tt.keyName, "alice")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, kmsDomain.OutcomeFailure, env.sink.last().Outcome)
		})
	}

	t.Run("duplicate while only inactive versions are live", func(t *testing.T) {
		_, err := env.kms.RotateKey(ctx, "api", "alice")
		require.NoError(t, err)
		require.NoError(t, env.kms.DeleteKey(ctx, "api", 2, "alice"))

		_, err = env.kms.CreateKey(ctx, "api", "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrKeyAlreadyExists)
	})
}

func TestKeyManagementSystem_RotationChain(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)
	const rotations = 5

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)
	for i := 0; i < rotations; i++ {
		meta, err := env.kms.RotateKey(ctx, "api", "alice")
		require.NoError(t, err)
		assert.Equal(t, uint(i+2), meta.Version)
	}

	versions, err := env.store.ListVersions(ctx, "api")
	require.NoError(t, err)
	require.Len(t, versions, rotations+1)
	for _, v := range versions[:rotations] {
		assert.Equal(t, kmsDomain.KeyStatusInactive, v.Status)
	}
	assert.Equal(t, []uint{rotations + 1}, activeVersions(t, env.store, "api"))

	seen := make(map[string]bool)
	for v := uint(1); v <= rotations+1; v++ {
		key, err := env.kms.GetKey(ctx, "api", v, "alice")
		require.NoError(t, err)
		assert.False(t, seen[string(key.Material)], "each version has distinct material")
		seen[string(key.Material)] = true
	}

	_, err = env.kms.RotateKey(ctx, "missing", "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)
}

func TestKeyManagementSystem_GetKeyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)

	first, err := env.kms.GetKey(ctx, "api", 0, "alice")
	require.NoError(t, err)
	second, err := env.kms.GetKey(ctx, "api", 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	first.Zero()
	third, err := env.kms.GetKey(ctx, "api", 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, second.Material, third.Material, "zeroing a returned key does not affect later reads")

	_, err = env.kms.GetKey(ctx, "api", 9, "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)

	reads := 0
	for _, rec := range env.sink.all() {
		if rec.Action == kmsDomain.ActionRead {
			reads++
		}
	}
	assert.Equal(t, 4, reads, "every read is audited")
}

func TestKeyManagementSystem_DeleteKey(t *testing.T) {
	ctx := context.Background()

	t.Run("single version", func(t *testing.T) {
		env := newInitializedEnv(t)
		_, err := env.kms.CreateKey(ctx, "api", "alice")
		require.NoError(t, err)
		_, err = env.kms.RotateKey(ctx, "api", "alice")
		require.NoError(t, err)

		require.NoError(t, env.kms.DeleteKey(ctx, "api", 1, "alice"))

		_, err = env.kms.GetKey(ctx, "api", 1, "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)
		current, err := env.kms.GetKey(ctx, "api", 0, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint(2), current.Version)

		err = env.kms.DeleteKey(ctx, "api", 1, "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)
	})

	t.Run("active version is not replaced", func(t *testing.T) {
		env := newInitializedEnv(t)
		_, err := env.kms.CreateKey(ctx, "api", "alice")
		require.NoError(t, err)
		_, err = env.kms.RotateKey(ctx, "api", "alice")
		require.NoError(t, err)

		require.NoError(t, env.kms.DeleteKey(ctx, "api", 2, "alice"))

		_, err = env.kms.GetKey(ctx, "api", 0, "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)
		_, err = env.kms.EncryptWithManagedKey(ctx, "api", []byte("x"), "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)

		meta, err := env.kms.RotateKey(ctx, "api", "alice")
		require.NoError(t, err)
		assert.Equal(t, uint(3), meta.Version)
		assert.Equal(t, []uint{3}, activeVersions(t, env.store, "api"))
	})

	t.Run("all versions", func(t *testing.T) {
		env := newInitializedEnv(t)
		_, err := env.kms.CreateKey(ctx, "api", "alice")
		require.NoError(t, err)

		require.NoError(t, env.kms.DeleteKey(ctx, "api", 0, "alice"))

		err = env.kms.DeleteKey(ctx, "api", 0, "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)
		_, err = env.kms.RotateKey(ctx, "api", "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)

		keys, err := env.kms.ListKeys(ctx, "admin")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestKeyManagementSystem_ConcurrentRotations(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)
	const n = 10

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions = make(map[uint]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			meta, err := env.kms.RotateKey(ctx, "api", "alice")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			versions[meta.Version] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, versions, n, "every rotation produced a distinct version")
	for v := uint(2); v <= n+1; v++ {
		assert.True(t, versions[v], "version %d", v)
	}
	assert.Equal(t, []uint{n + 1}, activeVersions(t, env.store, "api"))

	current, err := env.kms.GetKey(ctx, "api", 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(n+1), current.Version)
}

func TestKeyManagementSystem_ReadsDuringRotation(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)
	const (
		rotations = 20
		readers   = 8
	)

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)

	var (
		done      = make(chan struct{})
		readersWg sync.WaitGroup
		reads     atomic.Int64
	)
	for i := 0; i < readers; i++ {
		readersWg.Add(1)
		go func() {
			defer readersWg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				key, err := env.kms.GetKey(ctx, "api", 0, "alice")
				if !assert.NoError(t, err, "a reader saw no active version") {
					return
				}
				assert.Equal(t, kmsDomain.KeyStatusActive, key.Status)
				assert.Len(t, key.Material, cryptoDomain.KeySize)
				reads.Add(1)
			}
		}()
	}

	var rotatorsWg sync.WaitGroup
	for i := 0; i < rotations; i++ {
		rotatorsWg.Add(1)
		go func() {
			defer rotatorsWg.Done()
			_, err := env.kms.RotateKey(ctx, "api", "alice")
			assert.NoError(t, err)
		}()
	}
	rotatorsWg.Wait()
	close(done)
	readersWg.Wait()

	assert.Positive(t, reads.Load())
	assert.Equal(t, []uint{rotations + 1}, activeVersions(t, env.store, "api"))
}

func TestKeyManagementSystem_ReadStorageFailure(t *testing.T) {
	ctx := context.Background()
	memory := repository.NewMemoryKeyStore()

	writer := newEnv(t, memory, nil, "passphrase")
	require.NoError(t, writer.kms.Initialize(ctx))
	_, err := writer.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)
	ct, err := writer.kms.EncryptWithManagedKey(ctx, "api", []byte("card 4111"), "alice")
	require.NoError(t, err)
	_, err = writer.kms.RotateKey(ctx, "api", "alice")
	require.NoError(t, err)

	// a second instance over the same store only has the active versions cached
	store := &faultyStore{MemoryKeyStore: memory}
	reader := newEnv(t, memory, nil, "passphrase", withStore(store))
	require.NoError(t, reader.kms.Initialize(ctx))
	_, err = writer.kms.CreateKey(ctx, "db", "alice")
	require.NoError(t, err)

	store.failReads.Store(true)

	_, err = reader.kms.GetKey(ctx, "api", 1, "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrStorageUnavailable)
	_, err = reader.kms.GetKey(ctx, "db", 0, "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrStorageUnavailable)
	_, err = reader.kms.DecryptWithManagedKey(ctx, ct, "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrStorageUnavailable)
	assert.Equal(t, kmsDomain.OutcomeFailure, reader.sink.last().Outcome)

	store.failReads.Store(false)

	key, err := reader.kms.GetKey(ctx, "api", 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(1), key.Version)
	key, err = reader.kms.GetKey(ctx, "db", 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(1), key.Version)
	plaintext, err := reader.kms.DecryptWithManagedKey(ctx, ct, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("card 4111"), plaintext)
}

func TestKeyManagementSystem_RotationAcrossInstances(t *testing.T) {
	ctx := context.Background()
	memory := repository.NewMemoryKeyStore()

	other := newEnv(t, memory, nil, "passphrase")
	require.NoError(t, other.kms.Initialize(ctx))
	_, err := other.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)

	store := &racingStore{MemoryKeyStore: memory}
	store.rival = func() {
		meta, err := other.kms.RotateKey(ctx, "api", "bob")
		require.NoError(t, err)
		require.Equal(t, uint(2), meta.Version)
	}
	env := newEnv(t, memory, nil, "passphrase", withStore(store))
	require.NoError(t, env.kms.Initialize(ctx))

	meta, err := env.kms.RotateKey(ctx, "api", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(3), meta.Version)
	assert.Equal(t, []uint{3}, activeVersions(t, memory, "api"))
	assert.Equal(t, kmsDomain.OutcomeSuccess, env.sink.last().Outcome)

	current, err := env.kms.GetKey(ctx, "api", 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(3), current.Version)
}

func TestKeyManagementSystem_RotationStorageFailure(t *testing.T) {
	ctx := context.Background()
	memory := repository.NewMemoryKeyStore()
	store := &faultyStore{MemoryKeyStore: memory}
	env := newEnv(t, memory, nil, "passphrase", withStore(store))
	require.NoError(t, env.kms.Initialize(ctx))

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)
	before, err := env.kms.GetKey(ctx, "api", 0, "alice")
	require.NoError(t, err)

	store.failUpdates.Store(true)
	_, err = env.kms.RotateKey(ctx, "api", "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrStorageUnavailable)
	assert.Equal(t, kmsDomain.OutcomeFailure, env.sink.last().Outcome)

	versions, err := memory.ListVersions(ctx, "api")
	require.NoError(t, err)
	require.Len(t, versions, 1, "the new version was not persisted")
	assert.Equal(t, kmsDomain.KeyStatusActive, versions[0].Status)

	after, err := env.kms.GetKey(ctx, "api", 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.Material, after.Material)

	store.failUpdates.Store(false)
	meta, err := env.kms.RotateKey(ctx, "api", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(2), meta.Version)
}

func TestKeyManagementSystem_AccessControl(t *testing.T) {
	ctx := context.Background()

	gate := &mocks.MockAccessControlGate{}
	gate.On("Check", mock.Anything, "api", kmsDomain.ActionRead, "mallory").Return(false)
	gate.On("Check", mock.Anything, kmsDomain.WildcardResource, kmsDomain.ActionList, "mallory").Return(false)
	gate.On("Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	env := newEnv(t, nil, nil, "passphrase", withGate(gate))
	require.NoError(t, env.kms.Initialize(ctx))
	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)

	_, err = env.kms.GetKey(ctx, "api", 0, "mallory")
	assert.ErrorIs(t, err, kmsDomain.ErrAccessDenied)

	rec := env.sink.last()
	assert.Equal(t, "api", rec.Name)
	assert.Equal(t, "mallory", rec.Requester)
	assert.Equal(t, kmsDomain.ActionRead, rec.Action)
	assert.Equal(t, kmsDomain.OutcomeDenied, rec.Outcome)
	assert.NotEmpty(t, rec.Error)

	_, err = env.kms.ListKeys(ctx, "mallory")
	assert.ErrorIs(t, err, kmsDomain.ErrAccessDenied)
	assert.Equal(t, kmsDomain.WildcardResource, env.sink.last().Name)

	key, err := env.kms.GetKey(ctx, "api", 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(1), key.Version)
	assert.Equal(t, kmsDomain.OutcomeSuccess, env.sink.last().Outcome)

	gate.AssertCalled(t, "Check", mock.Anything, kmsDomain.WildcardResource, kmsDomain.ActionList, "mallory")
}

func TestKeyManagementSystem_Audit(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)
	_, err = env.kms.RotateKey(ctx, "api", "alice")
	require.NoError(t, err)
	ct, err := env.kms.EncryptWithManagedKey(ctx, "api", []byte("data"), "alice")
	require.NoError(t, err)
	_, err = env.kms.DecryptWithManagedKey(ctx, ct, "alice")
	require.NoError(t, err)
	_, err = env.kms.ListKeys(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, env.kms.DeleteKey(ctx, "api", 0, "alice"))

	records := env.sink.all()
	require.Len(t, records, 6, "one record per operation")

	wantActions := []kmsDomain.Action{
		kmsDomain.ActionCreate,
		kmsDomain.ActionRotate,
		kmsDomain.ActionEncrypt,
		kmsDomain.ActionDecrypt,
		kmsDomain.ActionList,
		kmsDomain.ActionDelete,
	}
	ids := make(map[string]bool)
	for i, rec := range records {
		assert.Equal(t, wantActions[i], rec.Action)
		assert.Equal(t, kmsDomain.OutcomeSuccess, rec.Outcome)
		assert.Equal(t, "alice", rec.Requester)
		assert.False(t, rec.Timestamp.IsZero())
		ids[rec.ID.String()] = true
	}
	assert.Len(t, ids, len(records))
	assert.Equal(t, uint(2), records[1].Version)
	assert.Equal(t, uint(2), records[2].Version)
}

func TestKeyManagementSystem_AuditOutcomes(t *testing.T) {
	ctx := context.Background()

	gate := &mocks.MockAccessControlGate{}
	gate.On("Check", mock.Anything, "api", kmsDomain.ActionRead, "mallory").Return(false)
	gate.On("Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	auditRecord := func(name string, action kmsDomain.Action, outcome kmsDomain.Outcome, requester string) interface{} {
		return mock.MatchedBy(func(r kmsDomain.AuditRecord) bool {
			return r.Name == name && r.Action == action && r.Outcome == outcome && r.Requester == requester
		})
	}

	sink := &mocks.MockAuditSink{}
	sink.On("Record", mock.Anything,
		auditRecord("api", kmsDomain.ActionCreate, kmsDomain.OutcomeSuccess, "alice")).Return().Once()
	sink.On("Record", mock.Anything,
		auditRecord("api", kmsDomain.ActionRead, kmsDomain.OutcomeDenied, "mallory")).Return().Once()
	sink.On("Record", mock.Anything, mock.MatchedBy(func(r kmsDomain.AuditRecord) bool {
		return r.Name == "missing" && r.Action == kmsDomain.ActionRead &&
			r.Outcome == kmsDomain.OutcomeFailure && r.Error != ""
	})).Return().Once()

	env := newEnv(t, nil, nil, "passphrase", withGate(gate), withAudit(sink))
	require.NoError(t, env.kms.Initialize(ctx))

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)
	_, err = env.kms.GetKey(ctx, "api", 0, "mallory")
	assert.ErrorIs(t, err, kmsDomain.ErrAccessDenied)
	_, err = env.kms.GetKey(ctx, "missing", 0, "alice")
	assert.ErrorIs(t, err, kmsDomain.ErrKeyNotFound)

	sink.AssertExpectations(t)
	sink.AssertNumberOfCalls(t, "Record", 3)
}

func TestKeyManagementSystem_ManagedCiphertextTampering(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)

	_, err := env.kms.CreateKey(ctx, "api", "alice")
	require.NoError(t, err)
	_, err = env.kms.CreateKey(ctx, "other", "alice")
	require.NoError(t, err)

	ct, err := env.kms.EncryptWithManagedKey(ctx, "api", []byte("payload"), "alice")
	require.NoError(t, err)

	t.Run("modified ciphertext", func(t *testing.T) {
		tampered := *ct
		tampered.Sealed.Ciphertext = append([]byte(nil), ct.Sealed.Ciphertext...)
		tampered.Sealed.Ciphertext[0] ^= 0xff

		_, err := env.kms.DecryptWithManagedKey(ctx, &tampered, "alice")
		assert.ErrorIs(t, err, cryptoDomain.ErrDecryptionFailed)
	})

	t.Run("different key name", func(t *testing.T) {
		moved := *ct
		moved.Name = "other"

		_, err := env.kms.DecryptWithManagedKey(ctx, &moved, "alice")
		assert.ErrorIs(t, err, cryptoDomain.ErrDecryptionFailed)
	})

	t.Run("nil ciphertext", func(t *testing.T) {
		_, err := env.kms.DecryptWithManagedKey(ctx, nil, "alice")
		assert.ErrorIs(t, err, kmsDomain.ErrInvalidCiphertextFormat)
	})

	t.Run("empty plaintext", func(t *testing.T) {
		empty, err := env.kms.EncryptWithManagedKey(ctx, "api", nil, "alice")
		require.NoError(t, err)
		plaintext, err := env.kms.DecryptWithManagedKey(ctx, empty, "alice")
		require.NoError(t, err)
		assert.Empty(t, plaintext)
	})
}

func TestKeyManagementSystem_RotateExpired(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryKeyStore()
	clock := newFakeClock()
	env := newEnv(t, store, clock, "passphrase")
	require.NoError(t, env.kms.Initialize(ctx))

	_, err := env.kms.CreateKey(ctx, "expiring", "alice")
	require.NoError(t, err)

	clock.Advance(30 * 24 * time.Hour)
	_, err = env.kms.CreateKey(ctx, "fresh", "alice")
	require.NoError(t, err)

	rotated, err := env.kms.RotateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rotated)

	clock.Advance(61 * 24 * time.Hour)
	rotated, err = env.kms.RotateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rotated)

	assert.Equal(t, []uint{2}, activeVersions(t, store, "expiring"))
	assert.Equal(t, []uint{1}, activeVersions(t, store, "fresh"))

	rec := env.sink.last()
	assert.Equal(t, kmsDomain.SystemRequester, rec.Requester)
	assert.Equal(t, kmsDomain.ActionRotate, rec.Action)
	assert.Equal(t, uint(2), rec.Version)

	latest, err := store.GetLatest(ctx, "expiring")
	require.NoError(t, err)
	assert.Equal(t, kmsDomain.SystemRequester, latest.CreatedBy)

	rotated, err = env.kms.RotateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rotated)

	t.Run("initialize runs a sweep", func(t *testing.T) {
		clock.Advance(60 * 24 * time.Hour)

		restarted := newEnv(t, store, clock, "passphrase")
		require.NoError(t, restarted.kms.Initialize(ctx))

		assert.Equal(t, []uint{2}, activeVersions(t, store, "fresh"))
	})
}

func TestKeyManagementSystem_DeriveSubKey(t *testing.T) {
	ctx := context.Background()
	env := newInitializedEnv(t)

	a1, err := env.kms.DeriveSubKey(ctx, "audit-signing")
	require.NoError(t, err)
	a2, err := env.kms.DeriveSubKey(ctx, "audit-signing")
	require.NoError(t, err)
	b, err := env.kms.DeriveSubKey(ctx, "other")
	require.NoError(t, err)

	assert.Len(t, a1, cryptoDomain.KeySize)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
}
