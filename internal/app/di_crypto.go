package app

import (
	"fmt"

	cryptoService "github.com/allisson/kms/internal/crypto/service"
	zkUsecase "github.com/allisson/kms/internal/zeroknowledge/usecase"
)

// AEADManager returns the AEAD manager service.
func (c *Container) AEADManager() cryptoService.AEADManager {
	c.aeadManagerInit.Do(func() {
		c.aeadManager = cryptoService.NewAEADManager()
	})
	return c.aeadManager
}

// KeyWrapper returns the key wrapping service.
func (c *Container) KeyWrapper() cryptoService.KeyWrapper {
	c.keyWrapperInit.Do(func() {
		c.keyWrapper = cryptoService.NewKeyWrapper(c.AEADManager())
	})
	return c.keyWrapper
}

// KMSService returns the service that opens external KMS keepers.
func (c *Container) KMSService() cryptoService.KMSService {
	c.kmsServiceInit.Do(func() {
		c.kmsService = cryptoService.NewKMSService()
	})
	return c.kmsService
}

// KeyDeriver returns the password key deriver configured with the ARGON2_* cost
// parameters.
func (c *Container) KeyDeriver() (cryptoService.KeyDeriver, error) {
	c.keyDeriverInit.Do(func() {
		deriver, err := cryptoService.NewKeyDeriver(c.config.Argon2Params())
		if err != nil {
			c.setInitError("keyDeriver", fmt.Errorf("invalid argon2 parameters: %w", err))
			return
		}
		c.keyDeriver = deriver
	})
	if err := c.initError("keyDeriver"); err != nil {
		return nil, err
	}
	return c.keyDeriver, nil
}

// ZeroKnowledgeWrapper returns the password-based encryption wrapper. It uses Argon2id
// with the ARGON2_* cost parameters.
func (c *Container) ZeroKnowledgeWrapper() (*zkUsecase.Wrapper, error) {
	c.zkWrapperInit.Do(func() {
		wrapper, err := c.initZeroKnowledgeWrapper()
		if err != nil {
			c.setInitError("zkWrapper", err)
			return
		}
		c.zkWrapper = wrapper
	})
	if err := c.initError("zkWrapper"); err != nil {
		return nil, err
	}
	return c.zkWrapper, nil
}

func (c *Container) initZeroKnowledgeWrapper() (*zkUsecase.Wrapper, error) {
	deriver, err := c.KeyDeriver()
	if err != nil {
		return nil, err
	}

	params := zkUsecase.DefaultKDFParams()
	argon2 := c.config.Argon2Params()
	params.Argon2 = &argon2

	wrapper, err := zkUsecase.NewWrapper(deriver, c.AEADManager(), params)
	if err != nil {
		return nil, fmt.Errorf("failed to create zero-knowledge wrapper: %w", err)
	}
	return wrapper, nil
}
