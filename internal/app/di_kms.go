package app

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/allisson/kms/internal/access"
	"github.com/allisson/kms/internal/audit"
	"github.com/allisson/kms/internal/config"
	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	kmsCache "github.com/allisson/kms/internal/kms/cache"
	kmsRepository "github.com/allisson/kms/internal/kms/repository"
	kmsUsecase "github.com/allisson/kms/internal/kms/usecase"
)

// KeyStore returns the key store selected by DB_DRIVER.
func (c *Container) KeyStore() (kmsUsecase.KeyStore, error) {
	c.keyStoreInit.Do(func() {
		store, err := c.initKeyStore()
		if err != nil {
			c.setInitError("keyStore", err)
			return
		}
		c.keyStore = store
	})
	if err := c.initError("keyStore"); err != nil {
		return nil, err
	}
	return c.keyStore, nil
}

// KeyCache returns the key entry cache reading through the key store.
func (c *Container) KeyCache() (kmsUsecase.KeyCache, error) {
	c.keyCacheInit.Do(func() {
		store, err := c.KeyStore()
		if err != nil {
			c.setInitError("keyCache", fmt.Errorf("failed to get key store for key cache: %w", err))
			return
		}
		c.keyCache = kmsCache.New(store, c.config.KeyCacheTTL)
	})
	if err := c.initError("keyCache"); err != nil {
		return nil, err
	}
	return c.keyCache, nil
}

// AccessGate returns the policy gate built from ACCESS_POLICIES.
func (c *Container) AccessGate() (kmsUsecase.AccessControlGate, error) {
	c.accessGateInit.Do(func() {
		policies, err := access.ParsePolicies(c.config.AccessPolicies)
		if err != nil {
			c.setInitError("accessGate", fmt.Errorf("invalid ACCESS_POLICIES: %w", err))
			return
		}
		c.accessGate = access.NewPolicyGate(policies, c.Logger())
	})
	if err := c.initError("accessGate"); err != nil {
		return nil, err
	}
	return c.accessGate, nil
}

// PassphraseSource returns the master passphrase source. A KMS-encrypted passphrase
// takes precedence over a plaintext one.
func (c *Container) PassphraseSource() (kmsUsecase.PassphraseSource, error) {
	c.passphraseSourceInit.Do(func() {
		source, err := c.initPassphraseSource()
		if err != nil {
			c.setInitError("passphraseSource", err)
			return
		}
		c.passphraseSource = source
	})
	if err := c.initError("passphraseSource"); err != nil {
		return nil, err
	}
	return c.passphraseSource, nil
}

// KeyManagementSystem returns the key management system, decorated with metrics. It is
// not initialized; use StartKeyManagementSystem for a ready instance.
func (c *Container) KeyManagementSystem() (kmsUsecase.KeyManagementSystem, error) {
	c.kmsInit.Do(func() {
		kms, err := c.initKeyManagementSystem()
		if err != nil {
			c.setInitError("kms", err)
			return
		}
		c.kms = kms
	})
	if err := c.initError("kms"); err != nil {
		return nil, err
	}
	return c.kms, nil
}

// StartKeyManagementSystem initializes the key management system once and, when audit
// signing is enabled, installs the signing key derived from the master key.
func (c *Container) StartKeyManagementSystem(ctx context.Context) (kmsUsecase.KeyManagementSystem, error) {
	kms, err := c.KeyManagementSystem()
	if err != nil {
		return nil, err
	}

	c.kmsStartInit.Do(func() {
		if err := c.startKeyManagementSystem(ctx, kms); err != nil {
			c.setInitError("kmsStart", err)
		}
	})
	if err := c.initError("kmsStart"); err != nil {
		return nil, err
	}
	return kms, nil
}

// RotationScheduler returns the background rotation sweep loop.
func (c *Container) RotationScheduler() (*kmsUsecase.RotationScheduler, error) {
	c.rotationSchedulerInit.Do(func() {
		kms, err := c.KeyManagementSystem()
		if err != nil {
			c.setInitError("rotationScheduler", err)
			return
		}
		c.rotationScheduler = kmsUsecase.NewRotationScheduler(kms, c.config.RotationSweepInterval, c.Logger())
	})
	if err := c.initError("rotationScheduler"); err != nil {
		return nil, err
	}
	return c.rotationScheduler, nil
}

func (c *Container) initKeyStore() (kmsUsecase.KeyStore, error) {
	if c.config.DBDriver == config.DriverMemory {
		return kmsRepository.NewMemoryKeyStore(), nil
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for key store: %w", err)
	}

	switch c.config.DBDriver {
	case config.DriverMySQL:
		return kmsRepository.NewMySQLKeyStore(db), nil
	case config.DriverPostgres:
		return kmsRepository.NewPostgreSQLKeyStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initPassphraseSource() (kmsUsecase.PassphraseSource, error) {
	if c.config.MasterPassphraseCiphertext != "" {
		if c.config.KMSKeyURI == "" {
			return nil, fmt.Errorf("KMS_KEY_URI is required with MASTER_PASSPHRASE_CIPHERTEXT")
		}
		ciphertext, err := base64.StdEncoding.DecodeString(c.config.MasterPassphraseCiphertext)
		if err != nil {
			return nil, fmt.Errorf("invalid MASTER_PASSPHRASE_CIPHERTEXT: %w", err)
		}
		return kmsUsecase.NewKMSPassphrase(c.KMSService(), c.config.KMSKeyURI, ciphertext), nil
	}

	if c.config.MasterPassphrase == "" {
		return nil, fmt.Errorf("MASTER_PASSPHRASE or MASTER_PASSPHRASE_CIPHERTEXT is required")
	}
	return kmsUsecase.NewStaticPassphrase([]byte(c.config.MasterPassphrase)), nil
}

func (c *Container) initKeyManagementSystem() (kmsUsecase.KeyManagementSystem, error) {
	store, err := c.KeyStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get key store for kms: %w", err)
	}
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for kms: %w", err)
	}
	keyCache, err := c.KeyCache()
	if err != nil {
		return nil, err
	}
	gate, err := c.AccessGate()
	if err != nil {
		return nil, err
	}
	sink, err := c.AuditSink()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit sink for kms: %w", err)
	}
	passphrase, err := c.PassphraseSource()
	if err != nil {
		return nil, err
	}
	deriver, err := c.KeyDeriver()
	if err != nil {
		return nil, err
	}
	algorithm, err := cryptoDomain.ParseAlgorithm(c.config.KeyAlgorithm)
	if err != nil {
		return nil, err
	}

	kms, err := kmsUsecase.NewKeyManagementSystem(
		kmsUsecase.Dependencies{
			Store:       store,
			TxManager:   txManager,
			Cache:       keyCache,
			Gate:        gate,
			Audit:       sink,
			Passphrase:  passphrase,
			KeyDeriver:  deriver,
			KeyWrapper:  c.KeyWrapper(),
			AEADManager: c.AEADManager(),
			Logger:      c.Logger(),
		},
		kmsUsecase.Config{
			Algorithm:   algorithm,
			MasterKDF:   c.config.Argon2Params(),
			KeyTTL:      c.config.KeyTTL,
			LockStripes: c.config.LockStripes,
			SweepRate:   c.config.RotationSweepRate,
			SweepBurst:  c.config.RotationSweepBurst,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create key management system: %w", err)
	}

	if !c.config.MetricsEnabled {
		return kms, nil
	}
	bm, err := c.BusinessMetrics()
	if err != nil {
		return nil, err
	}
	return kmsUsecase.NewKeyManagementSystemWithMetrics(kms, bm), nil
}

func (c *Container) startKeyManagementSystem(ctx context.Context, kms kmsUsecase.KeyManagementSystem) error {
	if err := kms.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize key management system: %w", err)
	}
	if !c.config.AuditSigningEnabled {
		return nil
	}

	key, err := kms.DeriveSubKey(ctx, audit.SigningKeyPurpose)
	if err != nil {
		return fmt.Errorf("failed to derive audit signing key: %w", err)
	}
	defer cryptoDomain.Zero(key)

	c.AuditSigner().SetKey(key)
	return nil
}
