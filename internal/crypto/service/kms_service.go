package service

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"gocloud.dev/secrets"
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"

	apperrors "github.com/allisson/kms/internal/errors"
)

// KeeperSchemes lists the key URI schemes OpenKeeper accepts.
var KeeperSchemes = []string{"awskms", "azurekeyvault", "gcpkms", "hashivault", "base64key"}

// KMSService opens keepers that protect the master passphrase at rest.
type KMSService interface {
	OpenKeeper(ctx context.Context, keyURI string) (KMSKeeper, error)
}

type kmsService struct{}

func NewKMSService() KMSService {
	return &kmsService{}
}

// OpenKeeper rejects URIs outside KeeperSchemes with ErrInvalidInput before dialing the
// provider. Provider failures are ErrUnavailable.
func (k *kmsService) OpenKeeper(ctx context.Context, keyURI string) (KMSKeeper, error) {
	u, err := url.Parse(keyURI)
	if err != nil || !slices.Contains(KeeperSchemes, u.Scheme) {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "failed to open KMS keeper: unsupported key URI %q", redactURI(keyURI))
	}

	keeper, err := secrets.OpenKeeper(ctx, keyURI)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrUnavailable, "failed to open KMS keeper %s (%v)", u.Scheme, err)
	}
	return keeper, nil
}

// redactURI keeps only the scheme; base64key URIs carry the key itself.
func redactURI(keyURI string) string {
	if scheme, _, ok := strings.Cut(keyURI, "://"); ok {
		return scheme + "://..."
	}
	return "..."
}
