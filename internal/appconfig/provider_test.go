package appconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"cronfunc/internal/config"
	logx "cronfunc/pkg/logx"
)

type mapSource struct {
	name  string
	data  map[string]Setting
	err   error
	calls atomic.Int64
}

func (s *mapSource) Name() string { return s.name }

func (s *mapSource) Setting(_ context.Context, key string) (Setting, bool, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Setting{}, false, s.err
	}
	st, ok := s.data[key]
	return st, ok, nil
}

func plain(key, value string) Setting { return Setting{Key: key, Value: value} }

func TestLookupFirstSourceWins(t *testing.T) {
	a := &mapSource{name: "a", data: map[string]Setting{"AppConfigKey": plain("AppConfigKey", "from-a")}}
	b := &mapSource{name: "b", data: map[string]Setting{
		"AppConfigKey": plain("AppConfigKey", "from-b"),
		"Other":        plain("Other", "only-b"),
	}}
	p := New(Options{Sources: []Source{a, b}})

	v, ok, err := p.Lookup(context.Background(), "AppConfigKey")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", v)

	v, ok, err = p.Lookup(context.Background(), "Other")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "only-b", v)

	v, ok, err = p.Lookup(context.Background(), "Missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestLookupEmptyValueIsFound(t *testing.T) {
	src := &mapSource{name: "a", data: map[string]Setting{"K": plain("K", "")}}
	p := New(Options{Sources: []Source{src}})
	v, ok, err := p.Lookup(context.Background(), "K")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestLookupSourceErrorPropagates(t *testing.T) {
	boom := errors.New("unauthorized")
	p := New(Options{Sources: []Source{&mapSource{name: "azure", err: boom}}})
	_, _, err := p.Lookup(context.Background(), "AppConfigKey")
	assert.IsError(t, err, boom)
	assert.Contains(t, err.Error(), "azure source")
}

func TestLookupResolvesKeyVaultReference(t *testing.T) {
	src := &mapSource{name: "azure", data: map[string]Setting{
		"KeyVaultSecretKey": {
			Key:         "KeyVaultSecretKey",
			Value:       `{"uri":"https://myvault.vault.azure.net/secrets/db-password"}`,
			ContentType: KeyVaultRefContentType,
		},
	}}
	var gotRef string
	p := New(Options{
		Sources: []Source{src},
		Resolvers: map[string]Resolver{
			"https": ResolverFunc(func(_ context.Context, ref string) (string, error) {
				gotRef = ref
				return "s3cret", nil
			}),
		},
	})
	v, ok, err := p.Lookup(context.Background(), "KeyVaultSecretKey")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s3cret", v)
	assert.Equal(t, "https://myvault.vault.azure.net/secrets/db-password", gotRef)
}

func TestLookupMissingSecretIsAbsent(t *testing.T) {
	src := &mapSource{name: "env", data: map[string]Setting{
		"KeyVaultSecretKey": plain("KeyVaultSecretKey", "@Microsoft.KeyVault(VaultName=v;SecretName=gone)"),
	}}
	p := New(Options{
		Sources: []Source{src},
		Resolvers: map[string]Resolver{
			"https": ResolverFunc(func(context.Context, string) (string, error) { return "", ErrNotFound }),
		},
	})
	_, ok, err := p.Lookup(context.Background(), "KeyVaultSecretKey")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupUnknownSchemeErrors(t *testing.T) {
	src := &mapSource{name: "file", data: map[string]Setting{
		"K": {Key: "K", Value: `{"uri":"vault://x/y"}`, ContentType: KeyVaultRefContentType},
	}}
	p := New(Options{Sources: []Source{src}})
	_, _, err := p.Lookup(context.Background(), "K")
	assert.IsError(t, err, ErrUnknownScheme)
}

func TestLookupCachesUntilTTL(t *testing.T) {
	src := &mapSource{name: "a", data: map[string]Setting{"K": plain("K", "v1")}}
	p := New(Options{Sources: []Source{src}, TTL: 80 * time.Millisecond})
	ctx := context.Background()

	for range 3 {
		v, ok, err := p.Lookup(ctx, "K")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", v)
	}
	assert.Equal(t, int64(1), src.calls.Load())

	// absence is cached as well
	_, ok, _ := p.Lookup(ctx, "Nope")
	assert.False(t, ok)
	_, _, _ = p.Lookup(ctx, "Nope")
	assert.Equal(t, int64(2), src.calls.Load())

	time.Sleep(150 * time.Millisecond)
	src.data["K"] = plain("K", "v2")
	v, _, err := p.Lookup(ctx, "K")
	assert.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int64(3), src.calls.Load())
}

func TestLookupWithoutCacheAlwaysHitsSource(t *testing.T) {
	src := &mapSource{name: "a", data: map[string]Setting{"K": plain("K", "v")}}
	p := New(Options{Sources: []Source{src}})
	for range 3 {
		_, _, _ = p.Lookup(context.Background(), "K")
	}
	assert.Equal(t, int64(3), src.calls.Load())
}

func TestFileSourceChangePurgesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{"AppConfigKey":"one"}`), 0o600))
	fs, err := NewFileSource(path, "", logx.Nop())
	assert.NoError(t, err)
	p := New(Options{Sources: []Source{fs}, TTL: time.Hour})

	v, _, err := p.Lookup(context.Background(), "AppConfigKey")
	assert.NoError(t, err)
	assert.Equal(t, "one", v)

	assert.NoError(t, os.WriteFile(path, []byte(`{"AppConfigKey":"two"}`), 0o600))
	assert.NoError(t, fs.Reload())

	v, _, err = p.Lookup(context.Background(), "AppConfigKey")
	assert.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestBuildDefaultSources(t *testing.T) {
	boot := config.FromEnviron([]string{"AppConfigKey=from-env"})
	p, err := Build(config.AppConfigConfig{}, boot, logx.Nop())
	assert.NoError(t, err)
	assert.Equal(t, []string{"env"}, p.Sources())

	v, ok, err := p.Lookup(context.Background(), "AppConfigKey")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-env", v)
}

func TestBuildWithEndpoint(t *testing.T) {
	boot := config.FromEnviron([]string{"AppConfigEndpoint=https://example.azconfig.io"})
	p, err := Build(config.AppConfigConfig{RefreshInterval: "0s"}, boot, logx.Nop())
	assert.NoError(t, err)
	assert.Equal(t, []string{"azure", "env"}, p.Sources())
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(config.AppConfigConfig{Sources: []string{"azure"}}, config.Bootstrap{}, logx.Nop())
	assert.IsError(t, err, ErrNoEndpoint)

	_, err = Build(config.AppConfigConfig{Sources: []string{"file"}}, config.Bootstrap{}, logx.Nop())
	assert.IsError(t, err, ErrSourceRequired)

	_, err = Build(config.AppConfigConfig{Sources: []string{"consul"}}, config.Bootstrap{}, logx.Nop())
	assert.IsError(t, err, ErrUnknownSource)
}
