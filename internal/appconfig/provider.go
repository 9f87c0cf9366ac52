package appconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	logx "cronfunc/pkg/logx"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultLookupTimeout   = 10 * time.Second
)

// Options configures a Provider.
type Options struct {
	// Sources are consulted in order; the first one holding the key wins.
	Sources []Source
	// Resolvers by lower-case reference scheme ("https", "keyring", "asm").
	Resolvers map[string]Resolver

	// TTL bounds how long a resolved value (or its absence) is cached.
	// 0 disables caching.
	TTL time.Duration
	// Timeout bounds each lookup including secret resolution. 0 disables.
	Timeout time.Duration

	Log logx.Logger
}

type cached struct {
	value string
	found bool
}

// Provider answers key lookups for timer functions. It is safe for
// concurrent use.
type Provider struct {
	sources   []Source
	resolvers map[string]Resolver
	timeout   time.Duration
	log       logx.Logger

	cache *ttlcache.Cache[string, cached]
}

func New(opts Options) *Provider {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Provider{
		sources:   append([]Source(nil), opts.Sources...),
		resolvers: map[string]Resolver{},
		timeout:   opts.Timeout,
		log:       log.With(logx.String("comp", "appconfig")),
	}
	for scheme, r := range opts.Resolvers {
		p.resolvers[scheme] = r
	}
	if opts.TTL > 0 {
		p.cache = ttlcache.New[string, cached](
			ttlcache.WithTTL[string, cached](opts.TTL),
			ttlcache.WithDisableTouchOnHit[string, cached](),
		)
	}
	for _, src := range p.sources {
		if n, ok := src.(changeNotifier); ok {
			name := src.Name()
			n.OnChange(func() {
				p.Purge()
				p.log.Debug("cache purged", logx.String("source", name))
			})
		}
	}
	return p
}

// Sources returns the source names in lookup order.
func (p *Provider) Sources() []string {
	out := make([]string, 0, len(p.sources))
	for _, s := range p.sources {
		out = append(out, s.Name())
	}
	return out
}

// Lookup returns the value for key. found=false means no source has the key
// (or the referenced secret does not exist); it is not an error.
func (p *Provider) Lookup(ctx context.Context, key string) (string, bool, error) {
	if p.cache != nil {
		if it := p.cache.Get(key); it != nil {
			v := it.Value()
			return v.value, v.found, nil
		}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	value, found, err := p.lookup(ctx, key)
	if err != nil {
		return "", false, err
	}
	if p.cache != nil {
		p.cache.Set(key, cached{value: value, found: found}, ttlcache.DefaultTTL)
	}
	return value, found, nil
}

func (p *Provider) lookup(ctx context.Context, key string) (string, bool, error) {
	for _, src := range p.sources {
		st, ok, err := src.Setting(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("%s source: %w", src.Name(), err)
		}
		if !ok {
			continue
		}
		ref, isRef, err := SecretRef(st)
		if err != nil {
			return "", false, err
		}
		if !isRef {
			return st.Value, true, nil
		}
		value, err := p.resolve(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			p.log.Warn("referenced secret not found", logx.String("key", key), logx.String("source", src.Name()), logx.Err(err))
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("resolve %q: %w", key, err)
		}
		return value, true, nil
	}
	return "", false, nil
}

func (p *Provider) resolve(ctx context.Context, ref string) (string, error) {
	scheme := refScheme(ref)
	r, ok := p.resolvers[scheme]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return r.Resolve(ctx, ref)
}

// Purge drops all cached values.
func (p *Provider) Purge() {
	if p.cache != nil {
		p.cache.DeleteAll()
	}
}

// Run follows source changes and evicts expired cache entries until ctx is
// done.
func (p *Provider) Run(ctx context.Context) {
	for _, src := range p.sources {
		w, ok := src.(interface{ Watch(context.Context) error })
		if !ok {
			continue
		}
		name := src.Name()
		go func() {
			if err := w.Watch(ctx); err != nil {
				p.log.Warn("source watch stopped", logx.String("source", name), logx.Err(err))
			}
		}()
	}
	if p.cache == nil {
		<-ctx.Done()
		return
	}
	go func() {
		<-ctx.Done()
		p.cache.Stop()
	}()
	p.cache.Start()
}
