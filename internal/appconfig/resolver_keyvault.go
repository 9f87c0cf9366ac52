package appconfig

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

type secretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// KeyVaultResolver resolves https://<vault>/secrets/<name>[/<version>]
// references against Azure Key Vault. One client is kept per vault.
type KeyVaultResolver struct {
	newClient func(vaultURL string) (secretGetter, error)

	mu      sync.Mutex
	clients map[string]secretGetter
}

func NewKeyVaultResolver(cred azcore.TokenCredential) *KeyVaultResolver {
	return &KeyVaultResolver{
		newClient: func(vaultURL string) (secretGetter, error) {
			return azsecrets.NewClient(vaultURL, cred, nil)
		},
		clients: map[string]secretGetter{},
	}
}

func (r *KeyVaultResolver) client(vaultURL string) (secretGetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[vaultURL]; ok {
		return c, nil
	}
	c, err := r.newClient(vaultURL)
	if err != nil {
		return nil, fmt.Errorf("key vault client %s: %w", vaultURL, err)
	}
	r.clients[vaultURL] = c
	return c, nil
}

func (r *KeyVaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	vaultURL, name, version, err := keyVaultSecretPath(ref)
	if err != nil {
		return "", err
	}
	c, err := r.client(vaultURL)
	if err != nil {
		return "", err
	}
	resp, err := c.GetSecret(ctx, name, version, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return "", fmt.Errorf("key vault secret %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("key vault secret %q: %w", name, err)
	}
	if resp.Value == nil {
		return "", nil
	}
	return *resp.Value, nil
}

func isAzureNotFound(err error) bool {
	var re *azcore.ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
