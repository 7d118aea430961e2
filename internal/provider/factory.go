package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"happin/internal/config"
	"happin/internal/domain"
)

// Constructor creates a provider from a config entry.
type Constructor func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	client       *http.Client
	constructors map[string]Constructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	timeout := time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		client:       SharedHTTPClient(timeout),
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by type.
func (f *Factory) RegisterConstructor(typ string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[typ] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["groq"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewGroq(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, MaxRetries: pc.MaxRetries, Client: client, Logger: logger})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, MaxRetries: pc.MaxRetries, Client: client, Logger: logger})
	}
	f.constructors["ollama"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewOllamaWithClient(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.Model, MaxRetries: pc.MaxRetries, Logger: logger}, client)
	}
}

// Get returns the provider with the given name, or the classifier's primary
// provider if name is empty. Created providers are cached.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.Classifier.Provider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Another goroutine may have created it.
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	typ := pc.Type
	if typ == "" {
		typ = name
	}
	ctor, found := f.constructors[typ]

	var p domain.Provider
	if found {
		p = ctor(pc, f.client, f.logger)
	} else if pc.APIBase != "" && pc.APIKey != "" {
		// Unknown types are treated as OpenAI-compatible.
		p = NewOpenAI(OpenAIConfig{Name: name, APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, MaxRetries: pc.MaxRetries, Client: f.client, Logger: f.logger})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base/key configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// Classifier returns the provider used by the LLM classification strategy:
// the primary provider followed by the failover chain, rate limited as a
// whole. It errors when no configured provider can be built.
func (f *Factory) Classifier() (domain.Provider, error) {
	names := append([]string{f.cfg.Classifier.Provider}, f.cfg.Classifier.FailoverChain...)
	seen := make(map[string]bool, len(names))
	var chain []domain.Provider
	var lastErr error
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("provider unavailable for classification", "provider", name, "err", err)
			lastErr = err
			continue
		}
		chain = append(chain, p)
	}

	var p domain.Provider
	switch len(chain) {
	case 0:
		if lastErr == nil {
			lastErr = fmt.Errorf("no classifier provider configured")
		}
		return nil, lastErr
	case 1:
		p = chain[0]
	default:
		p = NewFailoverProvider(chain, f.logger)
	}
	return WithRateLimit(p, f.cfg.Classifier.RequestsPerMinute), nil
}

// HealthyProvider returns the first enabled provider, in name order, that
// passes a health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
