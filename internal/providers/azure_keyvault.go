package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

// KeyVaultClient is the subset of *azsecrets.Client the store uses.
type KeyVaultClient interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	GetDeletedSecret(ctx context.Context, name string, options *azsecrets.GetDeletedSecretOptions) (azsecrets.GetDeletedSecretResponse, error)
	PurgeDeletedSecret(ctx context.Context, name string, options *azsecrets.PurgeDeletedSecretOptions) (azsecrets.PurgeDeletedSecretResponse, error)
	RecoverDeletedSecret(ctx context.Context, name string, options *azsecrets.RecoverDeletedSecretOptions) (azsecrets.RecoverDeletedSecretResponse, error)
	NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
}

// AzureKeyVaultConfig holds Azure Key Vault-specific configuration
type AzureKeyVaultConfig struct {
	VaultURL           string
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string
	PurgeOnDelete      bool
}

const (
	defaultKeyVaultPollInterval = time.Second
	defaultKeyVaultPollAttempts = 20
)

// AzureKeyVaultStore stores each key as a Key Vault secret of the same name.
type AzureKeyVaultStore struct {
	name     string
	client   KeyVaultClient
	vaultURL string
	logger   *logging.Logger

	purgeOnDelete bool
	pollInterval  time.Duration
	pollAttempts  int
}

// AzureStoreOption is a functional option for configuring the Key Vault store
type AzureStoreOption func(*AzureKeyVaultStore)

// WithKeyVaultClient sets a custom Key Vault client (for testing)
func WithKeyVaultClient(client KeyVaultClient) AzureStoreOption {
	return func(s *AzureKeyVaultStore) {
		s.client = client
	}
}

// WithAzureLogger sets the logger.
func WithAzureLogger(l *logging.Logger) AzureStoreOption {
	return func(s *AzureKeyVaultStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKeyVaultPolling sets how often and how many times the store checks
// for a pending delete, purge or recovery to finish.
func WithKeyVaultPolling(interval time.Duration, attempts int) AzureStoreOption {
	return func(s *AzureKeyVaultStore) {
		s.pollInterval = interval
		if attempts > 0 {
			s.pollAttempts = attempts
		}
	}
}

// NewAzureKeyVaultStore creates a Key Vault backed store.
func NewAzureKeyVaultStore(name string, configMap map[string]interface{}, opts ...AzureStoreOption) (*AzureKeyVaultStore, error) {
	config := AzureKeyVaultConfig{
		VaultURL:           stringValue(configMap, "vault_url"),
		TenantID:           stringValue(configMap, "tenant_id"),
		ClientID:           stringValue(configMap, "client_id"),
		ClientSecret:       stringValue(configMap, "client_secret"),
		UseManagedIdentity: boolValue(configMap, "use_managed_identity", false),
		UserAssignedID:     stringValue(configMap, "user_assigned_identity_id"),
		PurgeOnDelete:      boolValue(configMap, "purge_on_delete", true),
	}

	if config.VaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "store.vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	if u, err := url.Parse(config.VaultURL); err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, dserrors.ConfigError{
			Field:      "store.vault_url",
			Value:      config.VaultURL,
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}

	s := &AzureKeyVaultStore{
		name:     name,
		vaultURL: strings.TrimSuffix(config.VaultURL, "/"),
		logger:   logging.Discard(),

		purgeOnDelete: config.PurgeOnDelete,
		pollInterval:  defaultKeyVaultPollInterval,
		pollAttempts:  defaultKeyVaultPollAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := createKeyVaultClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
		}
		s.client = client
	}
	return s, nil
}

// createKeyVaultClient picks a credential: managed identity, service
// principal secret, or the default chain (environment, workload identity,
// az login).
func createKeyVaultClient(config AzureKeyVaultConfig) (*azsecrets.Client, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case config.UseManagedIdentity:
		var miOpts *azidentity.ManagedIdentityCredentialOptions
		if config.UserAssignedID != "" {
			miOpts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(config.UserAssignedID)}
		}
		cred, err = azidentity.NewManagedIdentityCredential(miOpts)
	case config.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(config.TenantID, config.ClientID, config.ClientSecret, nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	return azsecrets.NewClient(config.VaultURL, cred, nil)
}

// Name returns the store name
func (s *AzureKeyVaultStore) Name() string {
	return s.name
}

// Get returns the current version of secret key.
func (s *AzureKeyVaultStore) Get(ctx context.Context, key string) (string, error) {
	resp, err := s.client.GetSecret(ctx, key, "", nil)
	if err != nil {
		if isAzureNotFound(err) {
			return "", secretstore.NotFoundError{Store: s.name, Key: key}
		}
		return "", fmt.Errorf("get secret %s: %w", key, err)
	}
	if resp.Value == nil {
		return "", nil
	}
	return *resp.Value, nil
}

// Set writes a new version of secret key. A name held by a soft-deleted
// secret answers 409 until that secret is purged or recovered; the store
// recovers it and writes the new value on top.
func (s *AzureKeyVaultStore) Set(ctx context.Context, key, value string) error {
	s.logger.Debug("Setting Key Vault secret %s in %s", key, s.vaultURL)
	err := s.setSecret(ctx, key, value)
	if isAzureStatus(err, http.StatusConflict) {
		err = s.setOverDeleted(ctx, key, value)
	}
	if err != nil {
		return fmt.Errorf("set secret %s: %w", key, err)
	}
	return nil
}

func (s *AzureKeyVaultStore) setSecret(ctx context.Context, key, value string) error {
	_, err := s.client.SetSecret(ctx, key, azsecrets.SetSecretParameters{Value: &value}, nil)
	return err
}

// setOverDeleted recovers a soft-deleted key and retries the write until the
// vault stops reporting a conflict. A 404 from recovery means the old secret
// is already gone (purged, or the purge is still settling).
func (s *AzureKeyVaultStore) setOverDeleted(ctx context.Context, key, value string) error {
	return s.poll(ctx, "soft-deleted secret "+key, func() (bool, error) {
		_, err := s.client.RecoverDeletedSecret(ctx, key, nil)
		switch {
		case err == nil:
			s.logger.Warn("Recovered soft-deleted Key Vault secret %s before overwriting it", key)
		case isAzureStatus(err, http.StatusNotFound), isAzureStatus(err, http.StatusConflict):
		default:
			return false, fmt.Errorf("recover deleted secret: %w", err)
		}
		err = s.setSecret(ctx, key, value)
		if err == nil {
			return true, nil
		}
		if isAzureStatus(err, http.StatusConflict) {
			return false, nil
		}
		return false, err
	})
}

// Delete deletes secret key and, when purge_on_delete is set, purges it so
// the name can be reused straight away. A failed purge leaves the secret
// soft-deleted; Set recovers such names.
func (s *AzureKeyVaultStore) Delete(ctx context.Context, key string) error {
	s.logger.Debug("Deleting Key Vault secret %s in %s", key, s.vaultURL)
	resp, err := s.client.DeleteSecret(ctx, key, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete secret %s: %w", key, err)
	}
	if !s.purgeOnDelete || resp.RecoveryID == nil {
		return nil
	}
	if err := s.purge(ctx, key); err != nil {
		s.logger.Warn("Key Vault secret %s stays soft-deleted: %v", key, err)
	}
	return nil
}

// purge waits for the deletion of key to show up and purges it.
func (s *AzureKeyVaultStore) purge(ctx context.Context, key string) error {
	err := s.poll(ctx, "deletion of "+key, func() (bool, error) {
		_, err := s.client.GetDeletedSecret(ctx, key, nil)
		if err == nil {
			return true, nil
		}
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, err
	})
	if err != nil {
		return err
	}
	if _, err := s.client.PurgeDeletedSecret(ctx, key, nil); err != nil {
		return fmt.Errorf("purge deleted secret: %w", err)
	}
	return nil
}

// poll calls check until it reports done, fails, or runs out of attempts.
func (s *AzureKeyVaultStore) poll(ctx context.Context, what string, check func() (bool, error)) error {
	for attempt := 0; attempt < s.pollAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.pollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("timed out waiting for %s", what)
}

// ListKeys pages through secret properties. Key Vault fixes its own page
// size, so pageSize is ignored.
func (s *AzureKeyVaultStore) ListKeys(ctx context.Context, pageSize int) secretstore.KeyPager {
	return &keyVaultPager{pager: s.client.NewListSecretPropertiesPager(nil)}
}

// Validate lists one page of secrets.
func (s *AzureKeyVaultStore) Validate(ctx context.Context) error {
	pager := s.client.NewListSecretPropertiesPager(nil)
	if !pager.More() {
		return nil
	}
	if _, err := pager.NextPage(ctx); err != nil {
		return dserrors.StoreError("azure.keyvault", "validate", err)
	}
	return nil
}

type keyVaultPager struct {
	pager *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
}

func (p *keyVaultPager) More() bool {
	return p.pager.More()
}

func (p *keyVaultPager) NextPage(ctx context.Context) (secretstore.Page, error) {
	resp, err := p.pager.NextPage(ctx)
	if err != nil {
		return secretstore.Page{}, fmt.Errorf("list secrets: %w", err)
	}
	page := secretstore.Page{Keys: make([]secretstore.KeyDescriptor, 0, len(resp.Value))}
	for _, props := range resp.Value {
		if props == nil || props.ID == nil {
			continue
		}
		id := string(*props.ID)
		if v := props.ID.Version(); v != "" {
			id = strings.TrimSuffix(id, "/"+v)
		}
		page.Keys = append(page.Keys, secretstore.KeyDescriptor{ID: id})
	}
	return page, nil
}

func isAzureNotFound(err error) bool {
	return isAzureStatus(err, http.StatusNotFound)
}

func isAzureStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

var _ secretstore.Store = (*AzureKeyVaultStore)(nil)
