package llm

import (
	"fmt"

	"github.com/flowmind/orchestrator/internal/registry"
)

// Gateway is the Tool-Registry-shaped wrapper the rest of the
// orchestrator depends on: a named registry of Providers plus the
// default one to fall back to, mirroring the teacher's LLMRegistry
// wrapping registry.BaseRegistry[LLMProvider].
type Gateway struct {
	providers  *registry.BaseRegistry[Provider]
	defaultKey string
}

// NewGateway creates an empty Gateway. defaultKey names the provider
// returned by Default(); it need not be registered yet.
func NewGateway(defaultKey string) *Gateway {
	return &Gateway{
		providers:  registry.NewBaseRegistry[Provider](),
		defaultKey: defaultKey,
	}
}

// Register adds a provider under name.
func (g *Gateway) Register(name string, p Provider) error {
	return g.providers.Register(name, p)
}

// Get returns the provider registered under name.
func (g *Gateway) Get(name string) (Provider, error) {
	p, ok := g.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("llm gateway: no provider registered as %q", name)
	}
	return p, nil
}

// Default returns the provider configured as the gateway's default.
func (g *Gateway) Default() (Provider, error) {
	return g.Get(g.defaultKey)
}

// List returns the registered provider names.
func (g *Gateway) List() []string {
	return g.providers.List()
}

// Close shuts down every registered provider, collecting the first error.
func (g *Gateway) Close() error {
	var firstErr error
	for _, name := range g.providers.List() {
		p, ok := g.providers.Get(name)
		if !ok {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing provider %q: %w", name, err)
		}
	}
	return firstErr
}
