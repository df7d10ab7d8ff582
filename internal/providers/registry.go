package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/systmms/keyrelay/pkg/secretstore"
)

// StoreFactory creates a store instance from configuration
type StoreFactory func(name string, config map[string]interface{}) (secretstore.Store, error)

// Registry manages store creation and registration
type Registry struct {
	factories map[string]StoreFactory
}

// NewRegistry creates a new store registry with built-in backends
func NewRegistry() *Registry {
	registry := &Registry{
		factories: make(map[string]StoreFactory),
	}

	registry.RegisterFactory("azure.keyvault", NewAzureKeyVaultStoreFactory)
	registry.RegisterFactory("aws.secretsmanager", NewAWSSecretsManagerStoreFactory)
	registry.RegisterFactory("aws.ssm", NewAWSSSMStoreFactory)
	registry.RegisterFactory("gcp.secretmanager", NewGCPSecretManagerStoreFactory)
	registry.RegisterFactory("keychain", NewKeychainStoreFactory)
	registry.RegisterFactory("postgres", newSQLStoreFactory("postgres"))
	registry.RegisterFactory("mysql", newSQLStoreFactory("mysql"))
	registry.RegisterFactory("memory", NewMemoryStoreFactory)

	return registry
}

// RegisterFactory registers a store factory for a given type
func (r *Registry) RegisterFactory(storeType string, factory StoreFactory) {
	r.factories[storeType] = factory
}

// CreateStore creates a store of storeType from its configuration map.
func (r *Registry) CreateStore(name, storeType string, config map[string]interface{}) (secretstore.Store, error) {
	factory, exists := r.factories[storeType]
	if !exists {
		return nil, fmt.Errorf("unknown store type: %s", storeType)
	}
	return factory(name, config)
}

// GetSupportedTypes returns the registered store types, sorted.
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a store type is supported
func (r *Registry) IsSupported(storeType string) bool {
	_, exists := r.factories[storeType]
	return exists
}

// Factory functions for built-in backends

// NewAzureKeyVaultStoreFactory creates an Azure Key Vault store
func NewAzureKeyVaultStoreFactory(name string, config map[string]interface{}) (secretstore.Store, error) {
	return NewAzureKeyVaultStore(name, config)
}

// NewAWSSecretsManagerStoreFactory creates an AWS Secrets Manager store
func NewAWSSecretsManagerStoreFactory(name string, config map[string]interface{}) (secretstore.Store, error) {
	return NewAWSSecretsManagerStore(name, config)
}

// NewAWSSSMStoreFactory creates an AWS SSM Parameter Store store
func NewAWSSSMStoreFactory(name string, config map[string]interface{}) (secretstore.Store, error) {
	return NewAWSSSMStore(name, config)
}

// NewGCPSecretManagerStoreFactory creates a GCP Secret Manager store
func NewGCPSecretManagerStoreFactory(name string, config map[string]interface{}) (secretstore.Store, error) {
	return NewGCPSecretManagerStore(name, config)
}

// NewKeychainStoreFactory creates an OS keychain store
func NewKeychainStoreFactory(name string, config map[string]interface{}) (secretstore.Store, error) {
	return NewKeychainStore(name, config)
}

// NewMemoryStoreFactory creates an in-process store
func NewMemoryStoreFactory(name string, config map[string]interface{}) (secretstore.Store, error) {
	return NewMemoryStore(name, config), nil
}

// newSQLStoreFactory binds the dialect. The table is created on first use
// unless create_table is false.
func newSQLStoreFactory(storeType string) StoreFactory {
	return func(name string, config map[string]interface{}) (secretstore.Store, error) {
		store, err := NewSQLStore(name, storeType, config)
		if err != nil {
			return nil, err
		}
		if boolValue(config, "create_table", true) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		return store, nil
	}
}
