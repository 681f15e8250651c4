package channelmesh

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/delegation"
	"github.com/hupe1980/channelmesh/model"
)

// ModelFactory creates a model of one provider. An empty name selects the
// provider's default model.
type ModelFactory func(name string) (model.Model, error)

// NewModelResolver resolves agents to models by their ModelConfig. Agents
// without a provider use defaultProvider. Models are created once per
// (provider, name) pair and shared afterwards.
func NewModelResolver(defaultProvider string, factories map[string]ModelFactory) delegation.ModelResolver {
	var (
		mu    sync.Mutex
		cache = make(map[string]model.Model)
	)

	return func(agent core.Agent) (model.Model, error) {
		provider := strings.ToLower(agent.ModelConfig.Provider)
		if provider == "" {
			provider = defaultProvider
		}
		factory, ok := factories[provider]
		if !ok {
			return nil, fmt.Errorf("unknown model provider %q for agent %s", provider, agent.Name)
		}

		key := provider + "/" + agent.ModelConfig.Model

		mu.Lock()
		defer mu.Unlock()

		if m, ok := cache[key]; ok {
			return m, nil
		}
		m, err := factory(agent.ModelConfig.Model)
		if err != nil {
			return nil, fmt.Errorf("create %s model: %w", provider, err)
		}
		cache[key] = m
		return m, nil
	}
}
