package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
	"golang.org/x/time/rate"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	cryptoService "github.com/allisson/kms/internal/crypto/service"
	"github.com/allisson/kms/internal/database"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
	customValidation "github.com/allisson/kms/internal/validation"
)

// Dependencies groups the collaborators of the key management system.
type Dependencies struct {
	Store       KeyStore
	TxManager   database.TxManager
	Cache       KeyCache
	Gate        AccessControlGate
	Audit       AuditSink
	Passphrase  PassphraseSource
	KeyDeriver  cryptoService.KeyDeriver
	KeyWrapper  cryptoService.KeyWrapper
	AEADManager cryptoService.AEADManager
	Logger      *slog.Logger
}

// Config holds the tunables of the key management system. Zero values select defaults.
type Config struct {
	// Algorithm wraps new keys and encrypts data under them.
	Algorithm cryptoDomain.Algorithm

	// MasterKDF is used only when bootstrapping the master key. Later derivations read
	// the parameters persisted in the master key metadata.
	MasterKDF cryptoDomain.Argon2Params

	KeyTTL      time.Duration
	LockStripes int

	// SweepRate limits rotations per second during a sweep. Zero disables the limit.
	SweepRate  float64
	SweepBurst int

	Now func() time.Time
}

const defaultLockStripes = 64

type keyManagementSystem struct {
	store       KeyStore
	txManager   database.TxManager
	cache       KeyCache
	gate        AccessControlGate
	audit       AuditSink
	passphrase  PassphraseSource
	keyDeriver  cryptoService.KeyDeriver
	keyWrapper  cryptoService.KeyWrapper
	aeadManager cryptoService.AEADManager
	logger      *slog.Logger

	algorithm cryptoDomain.Algorithm
	masterKDF cryptoDomain.Argon2Params
	keyTTL    time.Duration
	now       func() time.Time

	locks        *stripedLock
	sweepLimiter *rate.Limiter
	initialized  atomic.Bool
}

// NewKeyManagementSystem creates a key management system. Initialize must succeed
// before any other operation.
func NewKeyManagementSystem(deps Dependencies, cfg Config) (KeyManagementSystem, error) {
	if deps.Store == nil || deps.TxManager == nil || deps.Cache == nil || deps.Gate == nil ||
		deps.Audit == nil || deps.Passphrase == nil || deps.KeyDeriver == nil ||
		deps.KeyWrapper == nil || deps.AEADManager == nil {
		return nil, errors.New("key management system: missing dependency")
	}

	if cfg.Algorithm == "" {
		cfg.Algorithm = cryptoDomain.AESGCM
	}
	if _, err := cryptoDomain.ParseAlgorithm(string(cfg.Algorithm)); err != nil {
		return nil, err
	}
	if cfg.MasterKDF == (cryptoDomain.Argon2Params{}) {
		cfg.MasterKDF = cryptoDomain.DefaultArgon2Params()
	}
	if err := cfg.MasterKDF.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = kmsDomain.DefaultKeyTTL
	}
	if cfg.LockStripes <= 0 {
		cfg.LockStripes = defaultLockStripes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	limit := rate.Inf
	if cfg.SweepRate > 0 {
		limit = rate.Limit(cfg.SweepRate)
	}
	if cfg.SweepBurst < 1 {
		cfg.SweepBurst = 1
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &keyManagementSystem{
		store:        deps.Store,
		txManager:    deps.TxManager,
		cache:        deps.Cache,
		gate:         deps.Gate,
		audit:        deps.Audit,
		passphrase:   deps.Passphrase,
		keyDeriver:   deps.KeyDeriver,
		keyWrapper:   deps.KeyWrapper,
		aeadManager:  deps.AEADManager,
		logger:       logger,
		algorithm:    cfg.Algorithm,
		masterKDF:    cfg.MasterKDF,
		keyTTL:       cfg.KeyTTL,
		now:          func() time.Time { return cfg.Now().UTC() },
		locks:        newStripedLock(cfg.LockStripes),
		sweepLimiter: rate.NewLimiter(limit, cfg.SweepBurst),
	}, nil
}

// wrapAAD binds wrapped key material to its (name, version) slot.
func wrapAAD(name string, version uint) []byte {
	return []byte(name + "@" + strconv.FormatUint(uint64(version), 10))
}

// dataAAD binds data ciphertexts to the key version that produced them.
func dataAAD(name string, version uint) []byte {
	return []byte(name + ":" + strconv.FormatUint(uint64(version), 10))
}

func outcomeOf(err error) kmsDomain.Outcome {
	switch {
	case err == nil:
		return kmsDomain.OutcomeSuccess
	case errors.Is(err, kmsDomain.ErrAccessDenied):
		return kmsDomain.OutcomeDenied
	default:
		return kmsDomain.OutcomeFailure
	}
}

func (k *keyManagementSystem) record(
	ctx context.Context,
	name string,
	version uint,
	requester string,
	action kmsDomain.Action,
	err error,
) {
	rec := kmsDomain.AuditRecord{
		ID:        uuid.Must(uuid.NewV7()),
		Name:      name,
		Version:   version,
		Requester: requester,
		Action:    action,
		Outcome:   outcomeOf(err),
		// SQL audit writers keep microsecond precision; signatures cover the stored value
		Timestamp: k.now().Truncate(time.Microsecond),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	k.audit.Record(ctx, rec)
}

// authorize runs the access check and then the lifecycle check.
func (k *keyManagementSystem) authorize(
	ctx context.Context,
	resource string,
	action kmsDomain.Action,
	requester string,
) error {
	if !k.gate.Check(ctx, resource, action, requester) {
		return fmt.Errorf("%w: %s may not %s %s", kmsDomain.ErrAccessDenied, requester, action, resource)
	}
	if !k.initialized.Load() {
		return kmsDomain.ErrNotInitialized
	}
	return nil
}

func validateKeyName(name string) error {
	if name == kmsDomain.MasterKeyName {
		return kmsDomain.ErrReservedKeyName
	}
	err := validation.Validate(
		name,
		validation.Required,
		validation.Length(1, kmsDomain.MaxKeyNameLength),
		customValidation.KeyName,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", kmsDomain.ErrInvalidKeyName, err)
	}
	return nil
}

// beginNamed authorizes an operation on a managed key.
func (k *keyManagementSystem) beginNamed(
	ctx context.Context,
	name string,
	action kmsDomain.Action,
	requester string,
) error {
	if err := k.authorize(ctx, name, action, requester); err != nil {
		return err
	}
	return validateKeyName(name)
}

// Initialize bootstraps the master key on first start, or verifies that the configured
// passphrase still unwraps it.
func (k *keyManagementSystem) Initialize(ctx context.Context) error {
	unlock, err := k.locks.lock(ctx, kmsDomain.MasterKeyName)
	if err != nil {
		return err
	}

	entry, err := k.store.GetByNameVersion(ctx, kmsDomain.MasterKeyName, 1)
	switch {
	case errors.Is(err, kmsDomain.ErrKeyNotFound):
		entry, err = k.bootstrapMaster(ctx)
		if errors.Is(err, kmsDomain.ErrKeyAlreadyExists) {
			// another process bootstrapped first
			entry, err = k.store.GetByNameVersion(ctx, kmsDomain.MasterKeyName, 1)
		}
		if err != nil {
			unlock()
			return err
		}
		k.logger.Info("master key bootstrapped", slog.String("algorithm", string(entry.Algorithm)))
	case err != nil:
		unlock()
		return err
	}

	masterKey, err := k.unwrapMaster(ctx, entry)
	unlock()
	if err != nil {
		return err
	}
	cryptoDomain.Zero(masterKey)

	k.cache.Invalidate(kmsDomain.MasterKeyName, 0)
	k.cache.Put(kmsDomain.MasterKeyName, entry.Version, entry)
	k.initialized.Store(true)

	if err := k.preload(ctx); err != nil {
		k.logger.Warn("failed to preload active keys", slog.Any("error", err))
	}

	rotated, err := k.RotateExpired(ctx)
	if err != nil {
		k.logger.Error("initial rotation sweep failed", slog.Any("error", err))
	}
	k.logger.Info("key management system initialized", slog.Int("rotated", rotated))
	return nil
}

func (k *keyManagementSystem) bootstrapMaster(ctx context.Context) (*kmsDomain.KeyEntry, error) {
	salt, err := cryptoService.RandomBytes(cryptoDomain.SaltSize)
	if err != nil {
		return nil, err
	}
	params := k.masterKDF

	kek, err := k.deriveKEK(ctx, salt, params)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(kek)

	masterKey, sealed, err := k.keyWrapper.Generate(
		kek,
		wrapAAD(kmsDomain.MasterKeyName, 1),
		k.algorithm,
	)
	if err != nil {
		return nil, err
	}
	cryptoDomain.Zero(masterKey)

	entry := &kmsDomain.KeyEntry{
		Name:         kmsDomain.MasterKeyName,
		Version:      1,
		Algorithm:    k.algorithm,
		EncryptedKey: sealed.Ciphertext,
		Nonce:        sealed.Nonce,
		Tag:          sealed.Tag,
		Status:       kmsDomain.KeyStatusActive,
		Metadata: map[string]string{
			kmsDomain.MetadataSalt:        base64.StdEncoding.EncodeToString(salt),
			kmsDomain.MetadataKDF:         string(cryptoDomain.KDFArgon2id),
			kmsDomain.MetadataMemoryKiB:   strconv.FormatUint(uint64(params.MemoryKiB), 10),
			kmsDomain.MetadataIterations:  strconv.FormatUint(uint64(params.Iterations), 10),
			kmsDomain.MetadataParallelism: strconv.FormatUint(uint64(params.Parallelism), 10),
		},
		CreatedBy: kmsDomain.SystemRequester,
		CreatedAt: k.now(),
	}
	if err := k.store.Put(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// masterKDFParams reads the derivation parameters persisted with the master key.
func masterKDFParams(entry *kmsDomain.KeyEntry) ([]byte, cryptoDomain.Argon2Params, error) {
	var params cryptoDomain.Argon2Params

	if kdf := entry.Metadata[kmsDomain.MetadataKDF]; kdf != string(cryptoDomain.KDFArgon2id) {
		return nil, params, fmt.Errorf("%w: unsupported master kdf %q", cryptoDomain.ErrInvalidKDFParams, kdf)
	}
	salt, err := base64.StdEncoding.DecodeString(entry.Metadata[kmsDomain.MetadataSalt])
	if err != nil || len(salt) == 0 {
		return nil, params, fmt.Errorf("%w: invalid master salt", cryptoDomain.ErrInvalidKDFParams)
	}

	memory, err := strconv.ParseUint(entry.Metadata[kmsDomain.MetadataMemoryKiB], 10, 32)
	if err != nil {
		return nil, params, fmt.Errorf("%w: invalid argon2 memory", cryptoDomain.ErrInvalidKDFParams)
	}
	iterations, err := strconv.ParseUint(entry.Metadata[kmsDomain.MetadataIterations], 10, 32)
	if err != nil {
		return nil, params, fmt.Errorf("%w: invalid argon2 iterations", cryptoDomain.ErrInvalidKDFParams)
	}
	parallelism, err := strconv.ParseUint(entry.Metadata[kmsDomain.MetadataParallelism], 10, 8)
	if err != nil {
		return nil, params, fmt.Errorf("%w: invalid argon2 parallelism", cryptoDomain.ErrInvalidKDFParams)
	}

	params = cryptoDomain.Argon2Params{
		MemoryKiB:   uint32(memory),
		Iterations:  uint32(iterations),
		Parallelism: uint8(parallelism),
	}
	return salt, params, nil
}

// deriveKEK re-derives the key encryption key from the passphrase. The KEK is never
// stored; callers zero it after use.
func (k *keyManagementSystem) deriveKEK(
	ctx context.Context,
	salt []byte,
	params cryptoDomain.Argon2Params,
) ([]byte, error) {
	passphrase, err := k.passphrase.Passphrase(ctx)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(passphrase)

	return k.keyDeriver.Derive(passphrase, salt, cryptoDomain.KDFParams{
		Algorithm: cryptoDomain.KDFArgon2id,
		Argon2:    &params,
		KeyLength: cryptoDomain.KeySize,
	})
}

func (k *keyManagementSystem) unwrapMaster(ctx context.Context, entry *kmsDomain.KeyEntry) ([]byte, error) {
	masterKey, err := k.openMaster(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kmsDomain.ErrMasterKeyUnwrap, err)
	}
	return masterKey, nil
}

func (k *keyManagementSystem) openMaster(ctx context.Context, entry *kmsDomain.KeyEntry) ([]byte, error) {
	salt, params, err := masterKDFParams(entry)
	if err != nil {
		return nil, err
	}

	kek, err := k.deriveKEK(ctx, salt, params)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(kek)

	return k.keyWrapper.Unwrap(kek, entry.Sealed(), wrapAAD(entry.Name, entry.Version), entry.Algorithm)
}

// withMasterKey runs fn with the unwrapped master key and zeroes it afterwards.
func (k *keyManagementSystem) withMasterKey(ctx context.Context, fn func(masterKey []byte) error) error {
	entry, err := k.cache.Get(ctx, kmsDomain.MasterKeyName, 1)
	if err != nil {
		return fmt.Errorf("failed to load master key: %w", err)
	}

	masterKey, err := k.unwrapMaster(ctx, entry)
	if err != nil {
		return err
	}
	defer cryptoDomain.Zero(masterKey)

	return fn(masterKey)
}

// newEntry generates fresh key material for (name, version) wrapped by the master key.
func (k *keyManagementSystem) newEntry(
	ctx context.Context,
	name string,
	version uint,
	requester string,
) (*kmsDomain.KeyEntry, error) {
	var sealed *cryptoDomain.Sealed
	err := k.withMasterKey(ctx, func(masterKey []byte) error {
		key, s, err := k.keyWrapper.Generate(masterKey, wrapAAD(name, version), k.algorithm)
		if err != nil {
			return err
		}
		cryptoDomain.Zero(key)
		sealed = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := k.now()
	return &kmsDomain.KeyEntry{
		Name:         name,
		Version:      version,
		Algorithm:    k.algorithm,
		EncryptedKey: sealed.Ciphertext,
		Nonce:        sealed.Nonce,
		Tag:          sealed.Tag,
		Status:       kmsDomain.KeyStatusActive,
		CreatedBy:    requester,
		CreatedAt:    now,
		ExpiresAt:    now.Add(k.keyTTL),
	}, nil
}

// unwrapEntry returns the plaintext key material of entry. Callers zero it.
func (k *keyManagementSystem) unwrapEntry(ctx context.Context, entry *kmsDomain.KeyEntry) ([]byte, error) {
	var key []byte
	err := k.withMasterKey(ctx, func(masterKey []byte) error {
		var err error
		key, err = k.keyWrapper.Unwrap(
			masterKey,
			entry.Sealed(),
			wrapAAD(entry.Name, entry.Version),
			entry.Algorithm,
		)
		return err
	})
	return key, err
}

// resolve returns a readable entry. Version zero resolves the active version; a latest
// version that is not active means the key has no current version.
func (k *keyManagementSystem) resolve(ctx context.Context, name string, version uint) (*kmsDomain.KeyEntry, error) {
	entry, err := k.cache.Get(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if version == 0 && entry.Status != kmsDomain.KeyStatusActive {
		return nil, kmsDomain.ErrKeyNotFound
	}
	if !entry.IsLive() {
		return nil, kmsDomain.ErrKeyNotFound
	}
	return entry, nil
}

func (k *keyManagementSystem) preload(ctx context.Context) error {
	metas, err := k.store.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, m := range metas {
		if m.Name == kmsDomain.MasterKeyName || m.Status != kmsDomain.KeyStatusActive {
			continue
		}
		if _, err := k.cache.Get(ctx, m.Name, 0); err != nil {
			return err
		}
	}
	return nil
}

// CreateKey creates a new key. Versions are never reused, so a name whose versions were
// all deleted continues from the latest version.
func (k *keyManagementSystem) CreateKey(
	ctx context.Context,
	name, requester string,
) (_ *kmsDomain.KeyMetadata, err error) {
	var version uint
	defer func() { k.record(ctx, name, version, requester, kmsDomain.ActionCreate, err) }()

	if err := k.beginNamed(ctx, name, kmsDomain.ActionCreate, requester); err != nil {
		return nil, err
	}

	unlock, err := k.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var entry *kmsDomain.KeyEntry
	err = k.txManager.WithTx(ctx, func(ctx context.Context) error {
		versions, err := k.store.ListVersions(ctx, name)
		if err != nil {
			return err
		}

		next := uint(1)
		for _, v := range versions {
			if v.IsLive() {
				return fmt.Errorf("%w: %s", kmsDomain.ErrKeyAlreadyExists, name)
			}
			next = v.Version + 1
		}

		entry, err = k.newEntry(ctx, name, next, requester)
		if err != nil {
			return err
		}
		return k.store.Put(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	version = entry.Version
	k.cache.Invalidate(name, 0)
	k.cache.Put(name, entry.Version, entry)

	return entry.ToMetadata(), nil
}

// GetKey returns the plaintext key material of a version. Version zero selects the
// active version.
func (k *keyManagementSystem) GetKey(
	ctx context.Context,
	name string,
	version uint,
	requester string,
) (_ *kmsDomain.Key, err error) {
	defer func() { k.record(ctx, name, version, requester, kmsDomain.ActionRead, err) }()

	if err := k.beginNamed(ctx, name, kmsDomain.ActionRead, requester); err != nil {
		return nil, err
	}

	entry, err := k.resolve(ctx, name, version)
	if err != nil {
		return nil, err
	}
	version = entry.Version

	material, err := k.unwrapEntry(ctx, entry)
	if err != nil {
		return nil, err
	}

	return &kmsDomain.Key{KeyMetadata: *entry.ToMetadata(), Material: material}, nil
}

// rotate creates latest+1 as the active version inside a transaction. When expiredOnly
// is set it rotates only if the active version has expired and reports whether it did.
// The caller holds the name lock.
func (k *keyManagementSystem) rotate(
	ctx context.Context,
	name, requester string,
	expiredOnly bool,
) (*kmsDomain.KeyEntry, error) {
	var entry *kmsDomain.KeyEntry
	err := k.txManager.WithTx(ctx, func(ctx context.Context) error {
		// locks the latest row for stores that support it
		latest, err := k.store.GetLatest(ctx, name)
		if err != nil {
			return err
		}

		versions, err := k.store.ListVersions(ctx, name)
		if err != nil {
			return err
		}

		var (
			active *kmsDomain.KeyEntry
			live   bool
		)
		for _, v := range versions {
			if v.IsLive() {
				live = true
			}
			if v.Status == kmsDomain.KeyStatusActive {
				active = v
			}
		}
		if !live {
			return kmsDomain.ErrKeyNotFound
		}
		if expiredOnly && (active == nil || !active.IsExpired(k.now())) {
			return nil
		}

		entry, err = k.newEntry(ctx, name, latest.Version+1, requester)
		if err != nil {
			return err
		}
		if err := k.store.Put(ctx, entry); err != nil {
			return err
		}
		if active != nil {
			return k.store.UpdateStatus(ctx, name, active.Version, kmsDomain.KeyStatusInactive)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if entry != nil {
		k.cache.Invalidate(name, 0)
		k.cache.Put(name, entry.Version, entry)
	}
	return entry, nil
}

// RotateKey creates a new active version and marks the previous active version
// inactive, atomically with respect to other operations on the same name. Rotations
// from other processes are ordered only by the store's unique (name, version)
// constraint; losing that race once is retried, losing it twice returns
// ErrKeyAlreadyExists.
func (k *keyManagementSystem) RotateKey(
	ctx context.Context,
	name, requester string,
) (_ *kmsDomain.KeyMetadata, err error) {
	var version uint
	defer func() { k.record(ctx, name, version, requester, kmsDomain.ActionRotate, err) }()

	if err := k.beginNamed(ctx, name, kmsDomain.ActionRotate, requester); err != nil {
		return nil, err
	}

	unlock, err := k.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry, err := k.rotate(ctx, name, requester, false)
	if errors.Is(err, kmsDomain.ErrKeyAlreadyExists) {
		// The name lock is per process. Another process sharing the store committed
		// latest+1 first; a second attempt reads its version as the new latest.
		k.logger.Warn("rotation lost a version race, retrying", slog.String("name", name))
		entry, err = k.rotate(ctx, name, requester, false)
	}
	if err != nil {
		return nil, err
	}
	version = entry.Version

	return entry.ToMetadata(), nil
}

// DeleteKey soft deletes one version, or every version when version is zero. Deleting
// the active version leaves the key without a current version until it is rotated or
// recreated.
func (k *keyManagementSystem) DeleteKey(
	ctx context.Context,
	name string,
	version uint,
	requester string,
) (err error) {
	defer func() { k.record(ctx, name, version, requester, kmsDomain.ActionDelete, err) }()

	if err := k.beginNamed(ctx, name, kmsDomain.ActionDelete, requester); err != nil {
		return err
	}

	unlock, err := k.locks.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	err = k.txManager.WithTx(ctx, func(ctx context.Context) error {
		versions, err := k.store.ListVersions(ctx, name)
		if err != nil {
			return err
		}

		found := false
		for _, v := range versions {
			if v.IsLive() && (version == 0 || v.Version == version) {
				found = true
				break
			}
		}
		if !found {
			return kmsDomain.ErrKeyNotFound
		}
		return k.store.UpdateStatus(ctx, name, version, kmsDomain.KeyStatusDeleted)
	})
	if err != nil {
		return err
	}

	k.cache.Invalidate(name, version)
	return nil
}

// ListKeys returns metadata of every live managed key version.
func (k *keyManagementSystem) ListKeys(ctx context.Context, requester string) (_ []*kmsDomain.KeyMetadata, err error) {
	defer func() {
		k.record(ctx, kmsDomain.WildcardResource, 0, requester, kmsDomain.ActionList, err)
	}()

	if err := k.authorize(ctx, kmsDomain.WildcardResource, kmsDomain.ActionList, requester); err != nil {
		return nil, err
	}

	metas, err := k.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]*kmsDomain.KeyMetadata, 0, len(metas))
	for _, m := range metas {
		if m.Name == kmsDomain.MasterKeyName || m.Status == kmsDomain.KeyStatusDeleted {
			continue
		}
		keys = append(keys, m)
	}
	return keys, nil
}

// EncryptWithManagedKey seals plaintext under the active version of name.
func (k *keyManagementSystem) EncryptWithManagedKey(
	ctx context.Context,
	name string,
	plaintext []byte,
	requester string,
) (_ *kmsDomain.ManagedCiphertext, err error) {
	var version uint
	defer func() { k.record(ctx, name, version, requester, kmsDomain.ActionEncrypt, err) }()

	if err := k.beginNamed(ctx, name, kmsDomain.ActionEncrypt, requester); err != nil {
		return nil, err
	}

	entry, err := k.resolve(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	version = entry.Version

	key, err := k.unwrapEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(key)

	aead, err := k.aeadManager.CreateCipher(key, entry.Algorithm)
	if err != nil {
		return nil, err
	}
	sealed, err := aead.Encrypt(plaintext, dataAAD(entry.Name, entry.Version))
	if err != nil {
		return nil, err
	}

	return &kmsDomain.ManagedCiphertext{
		Name:    entry.Name,
		Version: entry.Version,
		Sealed:  *sealed,
	}, nil
}

// DecryptWithManagedKey opens a ciphertext with the version recorded in it. Inactive
// versions still decrypt; deleted versions do not.
func (k *keyManagementSystem) DecryptWithManagedKey(
	ctx context.Context,
	ciphertext *kmsDomain.ManagedCiphertext,
	requester string,
) (_ []byte, err error) {
	if ciphertext == nil {
		err = kmsDomain.ErrInvalidCiphertextFormat
		k.record(ctx, "", 0, requester, kmsDomain.ActionDecrypt, err)
		return nil, err
	}

	name, version := ciphertext.Name, ciphertext.Version
	defer func() { k.record(ctx, name, version, requester, kmsDomain.ActionDecrypt, err) }()

	if err := k.beginNamed(ctx, name, kmsDomain.ActionDecrypt, requester); err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, kmsDomain.ErrInvalidCiphertextFormat
	}

	entry, err := k.resolve(ctx, name, version)
	if err != nil {
		return nil, err
	}

	key, err := k.unwrapEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(key)

	aead, err := k.aeadManager.CreateCipher(key, entry.Algorithm)
	if err != nil {
		return nil, err
	}
	return aead.Decrypt(&ciphertext.Sealed, dataAAD(name, version))
}

// RotateExpired rotates every active managed key whose expiry has passed. Rotations are
// attributed to the system requester and bypass the access gate. Keys are rotated
// one at a time at the configured sweep rate; failures on one key do not stop the
// sweep.
func (k *keyManagementSystem) RotateExpired(ctx context.Context) (int, error) {
	if !k.initialized.Load() {
		return 0, kmsDomain.ErrNotInitialized
	}

	metas, err := k.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	now := k.now()
	rotated := 0
	var errs []error
	for _, m := range metas {
		if m.Name == kmsDomain.MasterKeyName || m.Status != kmsDomain.KeyStatusActive {
			continue
		}
		if m.ExpiresAt.IsZero() || m.ExpiresAt.After(now) {
			continue
		}

		if err := k.sweepLimiter.Wait(ctx); err != nil {
			return rotated, errors.Join(append(errs, err)...)
		}

		entry, err := k.rotateIfExpired(ctx, m.Name)
		if err != nil {
			k.logger.Error(
				"failed to rotate expired key",
				slog.String("name", m.Name),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", m.Name, err))
			continue
		}
		if entry != nil {
			rotated++
			k.logger.Info(
				"rotated expired key",
				slog.String("name", entry.Name),
				slog.Uint64("version", uint64(entry.Version)),
			)
		}
	}
	return rotated, errors.Join(errs...)
}

func (k *keyManagementSystem) rotateIfExpired(ctx context.Context, name string) (entry *kmsDomain.KeyEntry, err error) {
	unlock, err := k.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry, err = k.rotate(ctx, name, kmsDomain.SystemRequester, true)
	if err != nil || entry != nil {
		var version uint
		if entry != nil {
			version = entry.Version
		}
		k.record(ctx, name, version, kmsDomain.SystemRequester, kmsDomain.ActionRotate, err)
	}
	return entry, err
}

// DeriveSubKey derives a 32-byte key bound to purpose from the master key.
func (k *keyManagementSystem) DeriveSubKey(ctx context.Context, purpose string) ([]byte, error) {
	if !k.initialized.Load() {
		return nil, kmsDomain.ErrNotInitialized
	}

	var subKey []byte
	err := k.withMasterKey(ctx, func(masterKey []byte) error {
		keys, err := cryptoService.DeriveSubKeys(masterKey, purpose, 1, cryptoDomain.KeySize)
		if err != nil {
			return err
		}
		subKey = keys[0]
		return nil
	})
	return subKey, err
}
