package appconfig

import (
	"context"
	"errors"
	"strings"
)

// KeyVaultRefContentType marks a setting whose value is a JSON document
// pointing at a secret instead of the value itself.
const KeyVaultRefContentType = "application/vnd.microsoft.appconfig.keyvaultref+json;charset=utf-8"

var (
	// ErrNotFound is returned by resolvers when the referenced secret does
	// not exist. The provider reports it as an absent value.
	ErrNotFound = errors.New("not found")

	ErrBadReference   = errors.New("invalid secret reference")
	ErrUnknownScheme  = errors.New("no resolver for secret reference scheme")
	ErrNoEndpoint     = errors.New("app configuration endpoint is not set")
	ErrUnknownSource  = errors.New("unknown settings source")
	ErrSourceRequired = errors.New("settings source is not configured")
)

// Setting is a single key as returned by a Source.
type Setting struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Label       string `json:"label,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// IsSecretRef reports whether the content type marks a Key Vault reference.
// Parameters after the media type (charset) are ignored.
func (s Setting) IsSecretRef() bool {
	mt, _, _ := strings.Cut(s.ContentType, ";")
	return strings.EqualFold(strings.TrimSpace(mt), "application/vnd.microsoft.appconfig.keyvaultref+json")
}

// Source is one place settings can come from. found=false means the source
// does not have the key; err is reserved for source failures.
type Source interface {
	Name() string
	Setting(ctx context.Context, key string) (s Setting, found bool, err error)
}

// Resolver fetches the secret a reference points at. ref is the full
// reference URI ("https://...", "keyring://...", "asm://...").
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, ref string) (string, error) { return f(ctx, ref) }

// changeNotifier is implemented by sources that can change underneath the
// provider (the settings file). The provider purges its cache on change.
type changeNotifier interface {
	OnChange(fn func())
}
