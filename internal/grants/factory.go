package grants

import (
	"fmt"
	"log"
	"time"

	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sourceclient"
)

// ProviderBuilder constructs a provider of one kind from its config and client.
type ProviderBuilder func(cfg config.ProviderConfig, client *sourceclient.Client) (Provider, error)

// ProviderFactory maps provider kinds (from the config file) to builders.
type ProviderFactory struct {
	builders map[string]ProviderBuilder
}

func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{builders: make(map[string]ProviderBuilder)}
}

func (f *ProviderFactory) Register(kind string, b ProviderBuilder) {
	f.builders[kind] = b
}

func (f *ProviderFactory) Get(kind string) (ProviderBuilder, error) {
	b, ok := f.builders[kind]
	if !ok {
		return nil, fmt.Errorf("provider kind not found: %s", kind)
	}
	return b, nil
}

// DefaultFactory knows the built-in provider kinds.
var DefaultFactory = NewProviderFactory()

func init() {
	DefaultFactory.Register("gtr", func(cfg config.ProviderConfig, c *sourceclient.Client) (Provider, error) {
		return NewGtRProvider(c, GtROptions{
			DisplayName: cfg.Name,
			Enabled:     cfg.Enabled,
			MaxPageSize: cfg.MaxPageSize,
			DetailTTL:   cfg.DetailCacheTTL(),
		}), nil
	})
	DefaultFactory.Register("ckan", func(cfg config.ProviderConfig, c *sourceclient.Client) (Provider, error) {
		return NewDataGovProvider(c, DataGovOptions{
			DisplayName: cfg.Name,
			Enabled:     cfg.Enabled,
			MaxPageSize: cfg.MaxPageSize,
			DetailTTL:   cfg.DetailCacheTTL(),
		}), nil
	})
	DefaultFactory.Register("html_listing", func(cfg config.ProviderConfig, c *sourceclient.Client) (Provider, error) {
		if cfg.Selectors.Container == "" || cfg.Selectors.Link == "" {
			return nil, fmt.Errorf("provider %s: html_listing needs container and link selectors", cfg.ID)
		}
		return NewFindAGrantProvider(c, FindAGrantOptions{
			Source:      models.Source(cfg.ID),
			DisplayName: cfg.Name,
			Enabled:     cfg.Enabled,
			SearchPath:  cfg.SearchPath,
			DetailPath:  cfg.DetailPath,
			Selectors:   cfg.Selectors,
			Detail:      cfg.Detail,
			Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		}), nil
	})
}

// BuildRegistry creates one source client per configured provider and
// registers the resulting providers. Disabled providers are registered too so
// they can be listed. A configuration error on any provider fails the build.
func BuildRegistry(cfg *config.Config, factory *ProviderFactory) (*Registry, error) {
	if factory == nil {
		factory = DefaultFactory
	}
	reg := NewRegistry(WithProviderTimeout(cfg.Search.ProviderTimeout()))
	for _, pc := range cfg.Providers {
		builder, err := factory.Get(pc.Kind)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		client, err := sourceclient.New(pc.ClientConfig())
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		p, err := builder(pc, client)
		if err != nil {
			return nil, err
		}
		reg.Register(p)
		log.Printf("[Registry] registered %s (%s, enabled=%t)", p.Source(), p.DisplayName(), p.Enabled())
	}
	return reg, nil
}
