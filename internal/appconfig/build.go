package appconfig

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"cronfunc/internal/config"
	logx "cronfunc/pkg/logx"
)

// Build assembles a Provider from the app_config section and the bootstrap
// environment.
//
// When sources is empty the order is: azure (if an endpoint is known), file
// (if settings_file is set), then env.
func Build(cfg config.AppConfigConfig, boot config.Bootstrap, log logx.Logger) (*Provider, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	ttl, err := config.ParseDurationOrDefault("app_config.refresh_interval", cfg.RefreshInterval, DefaultRefreshInterval)
	if err != nil {
		return nil, err
	}
	timeout, err := config.ParseDurationOrDefault("app_config.lookup_timeout", cfg.LookupTimeout, DefaultLookupTimeout)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = boot.AppConfigEndpoint
	}

	names := cfg.Sources
	if len(names) == 0 {
		if endpoint != "" {
			names = append(names, "azure")
		}
		if strings.TrimSpace(cfg.SettingsFile) != "" {
			names = append(names, "file")
		}
		names = append(names, "env")
	}

	cred := &lazyCredential{}
	sources := make([]Source, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "azure":
			src, err := NewAzureSource(endpoint, cred, cfg.Label)
			if err != nil {
				return nil, fmt.Errorf("app_config azure source (set %s or app_config.endpoint): %w", config.EnvAppConfigEndpoint, err)
			}
			sources = append(sources, src)
		case "file":
			path := strings.TrimSpace(cfg.SettingsFile)
			if path == "" {
				return nil, fmt.Errorf("app_config file source: settings_file: %w", ErrSourceRequired)
			}
			src, err := NewFileSource(path, cfg.Label, log.With(logx.String("comp", "appconfig.file")))
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		case "env":
			sources = append(sources, NewEnvSource(boot.Env, cfg.EnvPrefix))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
		}
	}

	asm := &ASMResolver{}
	if cfg.AWS != nil {
		asm.Region = cfg.AWS.Region
		asm.Endpoint = cfg.AWS.Endpoint
	}

	p := New(Options{
		Sources: sources,
		Resolvers: map[string]Resolver{
			"https":   NewKeyVaultResolver(cred),
			"keyring": KeyringResolver{},
			"asm":     asm,
		},
		TTL:     ttl,
		Timeout: timeout,
		Log:     log,
	})
	log.Info("configuration provider ready",
		logx.Strings("sources", p.Sources()),
		logx.Duration("refresh_interval", ttl),
	)
	return p, nil
}

// lazyCredential defers DefaultAzureCredential construction to the first
// token request, so hosts that never reach Azure do not need its environment.
type lazyCredential struct {
	once sync.Once
	cred azcore.TokenCredential
	err  error
}

func (c *lazyCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.once.Do(func() {
		c.cred, c.err = azidentity.NewDefaultAzureCredential(nil)
	})
	if c.err != nil {
		return azcore.AccessToken{}, fmt.Errorf("azure credential: %w", c.err)
	}
	return c.cred.GetToken(ctx, opts)
}
