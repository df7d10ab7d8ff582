package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// FakeAzureKeyVaultClient is an in-memory stand-in for *azsecrets.Client.
// It satisfies the KeyVaultClient interface of the azure.keyvault store.
type FakeAzureKeyVaultClient struct {
	// VaultURL prefixes every secret ID.
	VaultURL string
	// PageSize is the number of secrets per listing page (default 25).
	PageSize int
	// Secrets maps secret names to values.
	Secrets map[string]string
	// Deleted holds soft-deleted secrets by name. A deleted name cannot be
	// set until it is purged or recovered.
	Deleted map[string]string
	// DisableSoftDelete makes deletes permanent, like a vault without
	// soft-delete.
	DisableSoftDelete bool
	// DeleteLag is how many GetDeletedSecret or RecoverDeletedSecret calls
	// still see a fresh delete as in progress.
	DeleteLag int
	// Errors maps "op:name" (op is get, set, delete, getdeleted, purge or
	// recover) to an error to return.
	Errors map[string]error
	// ListErr fails every listing page.
	ListErr error

	pending   map[string]int
	listCalls int
	mu        sync.Mutex
}

// NewFakeAzureKeyVaultClient creates an empty fake vault.
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		VaultURL: "https://test-vault.vault.azure.net",
		PageSize: 25,
		Secrets:  make(map[string]string),
		Deleted:  make(map[string]string),
		Errors:   make(map[string]error),
		pending:  make(map[string]int),
	}
}

// AddSecretString seeds a secret.
func (f *FakeAzureKeyVaultClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = value
}

// AddError configures the fake to fail op on name.
func (f *FakeAzureKeyVaultClient) AddError(op, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[op+":"+name] = err
}

// ListCalls returns how many pagers were created.
func (f *FakeAzureKeyVaultClient) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *FakeAzureKeyVaultClient) secretID(name string) *azsecrets.ID {
	return (*azsecrets.ID)(to.Ptr(fmt.Sprintf("%s/secrets/%s/0123456789abcdef", f.VaultURL, name)))
}

// GetSecret mocks the GetSecret operation
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors["get:"+name]; ok {
		return azsecrets.GetSecretResponse{}, err
	}
	value, ok := f.Secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
	}
	now := time.Now()
	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:    f.secretID(name),
			Value: to.Ptr(value),
			Attributes: &azsecrets.SecretAttributes{
				Enabled: to.Ptr(true),
				Updated: &now,
			},
		},
	}, nil
}

// SetSecret mocks the SetSecret operation
func (f *FakeAzureKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors["set:"+name]; ok {
		return azsecrets.SetSecretResponse{}, err
	}
	if _, ok := f.Deleted[name]; ok {
		return azsecrets.SetSecretResponse{}, AzureConflictError()
	}
	if parameters.Value == nil {
		return azsecrets.SetSecretResponse{}, &azcore.ResponseError{StatusCode: 400, ErrorCode: "BadParameter"}
	}
	f.Secrets[name] = *parameters.Value
	return azsecrets.SetSecretResponse{
		Secret: azsecrets.Secret{ID: f.secretID(name), Value: parameters.Value},
	}, nil
}

// DeleteSecret mocks the DeleteSecret operation
func (f *FakeAzureKeyVaultClient) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors["delete:"+name]; ok {
		return azsecrets.DeleteSecretResponse{}, err
	}
	value, ok := f.Secrets[name]
	if !ok {
		return azsecrets.DeleteSecretResponse{}, AzureNotFoundError(name)
	}
	delete(f.Secrets, name)
	if f.DisableSoftDelete {
		return azsecrets.DeleteSecretResponse{}, nil
	}
	f.Deleted[name] = value
	f.pending[name] = f.DeleteLag
	return azsecrets.DeleteSecretResponse{
		DeletedSecret: azsecrets.DeletedSecret{
			ID:         f.secretID(name),
			RecoveryID: to.Ptr(fmt.Sprintf("%s/deletedsecrets/%s", f.VaultURL, name)),
		},
	}, nil
}

// settling reports whether a delete of name is still in progress, counting
// down one call.
func (f *FakeAzureKeyVaultClient) settling(name string) bool {
	if f.pending[name] > 0 {
		f.pending[name]--
		return true
	}
	return false
}

// GetDeletedSecret mocks the GetDeletedSecret operation
func (f *FakeAzureKeyVaultClient) GetDeletedSecret(ctx context.Context, name string, options *azsecrets.GetDeletedSecretOptions) (azsecrets.GetDeletedSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors["getdeleted:"+name]; ok {
		return azsecrets.GetDeletedSecretResponse{}, err
	}
	if _, ok := f.Deleted[name]; !ok || f.settling(name) {
		return azsecrets.GetDeletedSecretResponse{}, AzureNotFoundError(name)
	}
	return azsecrets.GetDeletedSecretResponse{
		DeletedSecret: azsecrets.DeletedSecret{ID: f.secretID(name)},
	}, nil
}

// PurgeDeletedSecret mocks the PurgeDeletedSecret operation
func (f *FakeAzureKeyVaultClient) PurgeDeletedSecret(ctx context.Context, name string, options *azsecrets.PurgeDeletedSecretOptions) (azsecrets.PurgeDeletedSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors["purge:"+name]; ok {
		return azsecrets.PurgeDeletedSecretResponse{}, err
	}
	if _, ok := f.Deleted[name]; !ok {
		return azsecrets.PurgeDeletedSecretResponse{}, AzureNotFoundError(name)
	}
	if f.pending[name] > 0 {
		return azsecrets.PurgeDeletedSecretResponse{}, AzureConflictError()
	}
	delete(f.Deleted, name)
	return azsecrets.PurgeDeletedSecretResponse{}, nil
}

// RecoverDeletedSecret mocks the RecoverDeletedSecret operation. Recovery
// completes immediately once the delete has settled.
func (f *FakeAzureKeyVaultClient) RecoverDeletedSecret(ctx context.Context, name string, options *azsecrets.RecoverDeletedSecretOptions) (azsecrets.RecoverDeletedSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors["recover:"+name]; ok {
		return azsecrets.RecoverDeletedSecretResponse{}, err
	}
	value, ok := f.Deleted[name]
	if !ok {
		return azsecrets.RecoverDeletedSecretResponse{}, AzureNotFoundError(name)
	}
	if f.settling(name) {
		return azsecrets.RecoverDeletedSecretResponse{}, AzureConflictError()
	}
	delete(f.Deleted, name)
	f.Secrets[name] = value
	return azsecrets.RecoverDeletedSecretResponse{
		Secret: azsecrets.Secret{ID: f.secretID(name)},
	}, nil
}

// NewListSecretPropertiesPager pages over a snapshot of the secret names,
// sorted, PageSize per page.
func (f *FakeAzureKeyVaultClient) NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse] {
	f.mu.Lock()
	f.listCalls++
	names := make([]string, 0, len(f.Secrets))
	for name := range f.Secrets {
		names = append(names, name)
	}
	listErr := f.ListErr
	pageSize := f.PageSize
	f.mu.Unlock()

	sort.Strings(names)
	if pageSize <= 0 {
		pageSize = 25
	}

	next := 0
	fetched := false
	return runtime.NewPager(runtime.PagingHandler[azsecrets.ListSecretPropertiesResponse]{
		More: func(azsecrets.ListSecretPropertiesResponse) bool {
			return next < len(names)
		},
		Fetcher: func(ctx context.Context, _ *azsecrets.ListSecretPropertiesResponse) (azsecrets.ListSecretPropertiesResponse, error) {
			if listErr != nil {
				return azsecrets.ListSecretPropertiesResponse{}, listErr
			}
			if fetched && next >= len(names) {
				return azsecrets.ListSecretPropertiesResponse{}, nil
			}
			fetched = true
			end := next + pageSize
			if end > len(names) {
				end = len(names)
			}
			var props []*azsecrets.SecretProperties
			for _, name := range names[next:end] {
				props = append(props, &azsecrets.SecretProperties{ID: f.secretID(name)})
			}
			next = end
			return azsecrets.ListSecretPropertiesResponse{
				SecretPropertiesListResult: azsecrets.SecretPropertiesListResult{Value: props},
			}, nil
		},
	})
}

// AzureNotFoundError creates a mock Azure not found error
func AzureNotFoundError(secretName string) error {
	return &azcore.ResponseError{
		StatusCode: 404,
		ErrorCode:  "SecretNotFound",
	}
}

// AzureConflictError creates a mock Azure conflict error, as returned for a
// name held by a soft-deleted secret.
func AzureConflictError() error {
	return &azcore.ResponseError{
		StatusCode: 409,
		ErrorCode:  "Conflict",
	}
}

// AzureForbiddenError creates a mock Azure forbidden error
func AzureForbiddenError() error {
	return &azcore.ResponseError{
		StatusCode: 403,
		ErrorCode:  "Forbidden",
	}
}

// AzureThrottledError creates a mock Azure throttled error
func AzureThrottledError() error {
	return &azcore.ResponseError{
		StatusCode: 429,
		ErrorCode:  "TooManyRequests",
	}
}
