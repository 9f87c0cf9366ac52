package appconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	keyring "github.com/zalando/go-keyring"
)

// KeyringResolver resolves keyring://<service>/<user> references from the OS
// keychain. Useful on developer machines where no vault is reachable.
type KeyringResolver struct{}

func (KeyringResolver) Resolve(ctx context.Context, ref string) (string, error) {
	_, rest, _ := strings.Cut(ref, "://")
	service, user, ok := strings.Cut(strings.Trim(rest, "/"), "/")
	if !ok || service == "" || user == "" {
		return "", fmt.Errorf("%w: expected keyring://<service>/<name>: %q", ErrBadReference, ref)
	}
	value, err := keyring.Get(service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("no keychain entry for %s/%s: %w", service, user, ErrNotFound)
		}
		return "", err
	}
	return value, nil
}
