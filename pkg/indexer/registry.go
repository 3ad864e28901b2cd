package indexer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/pkg/config"
)

// Factory is a function that creates a new contract handler instance.
type Factory func(cfg config.ContractConfig, log *logger.Logger) (Handler, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register registers a handler factory under the given kind.
// This is typically called in init() functions of handler packages.
// The kind is case-insensitive and will be stored in lowercase.
func Register(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	name := strings.ToLower(kind)
	if _, exists := registry[name]; exists {
		logger.GetDefaultLogger().Infof("handler kind %s already in registry. It will be overwritten.", name)
	}

	registry[name] = factory
}

// GetFactory returns the factory for the given handler kind.
// Returns nil if the kind is not registered.
// The lookup is case-insensitive.
func GetFactory(kind string) Factory {
	mu.RLock()
	defer mu.RUnlock()
	return registry[strings.ToLower(kind)]
}

// RegisteredKinds returns a sorted list of all registered handler kinds.
func RegisteredKinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	return kinds
}

// Create creates a new handler instance using the registered factory.
// Returns an error if the kind is not registered or if creation fails.
// The kind lookup is case-insensitive.
func Create(cfg config.ContractConfig, log *logger.Logger) (Handler, error) {
	factory := GetFactory(cfg.Kind)
	if factory == nil {
		return nil, fmt.Errorf("unknown contract kind: %s (registered kinds: %v)", cfg.Kind, RegisteredKinds())
	}

	return factory(cfg, log)
}
