package providers

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"socialbackend/clients"
	"socialbackend/clients/instagram"
	"socialbackend/clients/linkedin"
	"socialbackend/clients/tiktok"
	"socialbackend/clients/twitter"
	"socialbackend/clients/youtube"
	"socialbackend/config"
	"socialbackend/core"
	"socialbackend/models"
)

// Registry maps provider identifiers to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ProviderIdentifier]clients.ProviderAdapter
}

func NewRegistry(adapters ...clients.ProviderAdapter) *Registry {
	r := &Registry{adapters: make(map[models.ProviderIdentifier]clients.ProviderAdapter)}
	for _, adapter := range adapters {
		r.Register(adapter)
	}
	return r
}

// NewRegistryFromConfig builds adapters for every provider whose credentials are configured.
func NewRegistryFromConfig(cfg *config.AppConfig) *Registry {
	registry := NewRegistry()
	httpClient := clients.NewHTTPClient()

	register := func(name string, providerConfig config.OAuthProviderConfig, build func(clients.ProviderConfig) clients.ProviderAdapter) {
		if !providerConfig.IsConfigured() {
			log.Printf("⚠️ Skipping %s adapter - provider is not configured", name)
			return
		}
		registry.Register(build(clients.ProviderConfig{
			ClientID:     providerConfig.ClientID,
			ClientSecret: providerConfig.ClientSecret,
			RedirectURI:  providerConfig.RedirectURI,
		}))
	}

	register("twitter", cfg.TwitterConfig, func(pc clients.ProviderConfig) clients.ProviderAdapter {
		return twitter.NewTwitterAdapter(pc, twitter.DefaultEndpoints, httpClient)
	})
	register("linkedin", cfg.LinkedInConfig, func(pc clients.ProviderConfig) clients.ProviderAdapter {
		return linkedin.NewLinkedInAdapter(pc, linkedin.DefaultEndpoints, httpClient)
	})
	register("youtube", cfg.YouTubeConfig, func(pc clients.ProviderConfig) clients.ProviderAdapter {
		return youtube.NewYouTubeAdapter(pc, youtube.DefaultEndpoints, httpClient)
	})
	register("instagram", cfg.InstagramConfig, func(pc clients.ProviderConfig) clients.ProviderAdapter {
		return instagram.NewInstagramAdapter(pc, instagram.DefaultEndpoints, httpClient)
	})
	register("tiktok", cfg.TikTokConfig, func(pc clients.ProviderConfig) clients.ProviderAdapter {
		return tiktok.NewTikTokAdapter(pc, tiktok.DefaultEndpoints, httpClient)
	})

	log.Printf("📋 Provider registry ready with adapters: %v", registry.Identifiers())
	return registry
}

func (r *Registry) Register(adapter clients.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Identifier()] = adapter
}

// Get resolves the adapter for a provider identifier. Unknown identifiers wrap core.ErrUnsupportedProvider.
func (r *Registry) Get(identifier string) (clients.ProviderAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[models.ProviderIdentifier(identifier)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedProvider, identifier)
	}
	return adapter, nil
}

// Identifiers returns the registered provider identifiers in sorted order
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)
	return ids
}
