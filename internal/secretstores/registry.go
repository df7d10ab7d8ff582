package secretstores

import (
	"fmt"

	"github.com/systmms/keyrelay/internal/config"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/internal/providers"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

// Registry manages secret store creation and registration
type Registry struct {
	providerRegistry *providers.Registry
	logger           *logging.Logger
}

// NewRegistry creates a new secret store registry with built-in secret stores
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		providerRegistry: providers.NewRegistry(),
		logger:           logger,
	}
}

// Providers exposes the backend registry so callers can register extra
// factories.
func (r *Registry) Providers() *providers.Registry {
	return r.providerRegistry
}

// CreateSecretStore creates a secret store instance from configuration.
// The store is wrapped with the per-call timeout and metrics.
func (r *Registry) CreateSecretStore(cfg config.StoreConfig) (secretstore.Store, error) {
	if !r.IsSupported(cfg.Type) {
		return nil, fmt.Errorf("unknown secret store type: %s", cfg.Type)
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}

	store, err := r.providerRegistry.CreateStore(name, cfg.Type, cfg.Config)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Created %s store %q (timeout %s)", cfg.Type, name, cfg.GetStoreTimeout())
	return NewInstrumented(store, cfg.GetStoreTimeout()), nil
}

// GetSupportedTypes returns a list of supported secret store types
func (r *Registry) GetSupportedTypes() []string {
	return r.providerRegistry.GetSupportedTypes()
}

// IsSupported checks if a secret store type is supported
func (r *Registry) IsSupported(storeType string) bool {
	return r.providerRegistry.IsSupported(storeType)
}
