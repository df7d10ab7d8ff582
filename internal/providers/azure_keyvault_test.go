package providers_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/providers"
	"github.com/systmms/keyrelay/pkg/secretstore"
	"github.com/systmms/keyrelay/tests/fakes"
)

func newKeyVaultStore(t *testing.T) (*providers.AzureKeyVaultStore, *fakes.FakeAzureKeyVaultClient) {
	t.Helper()
	return newKeyVaultStoreWith(t, map[string]interface{}{})
}

func newKeyVaultStoreWith(t *testing.T, extra map[string]interface{}) (*providers.AzureKeyVaultStore, *fakes.FakeAzureKeyVaultClient) {
	t.Helper()
	client := fakes.NewFakeAzureKeyVaultClient()
	config := map[string]interface{}{"vault_url": "https://test-vault.vault.azure.net/"}
	for k, v := range extra {
		config[k] = v
	}
	store, err := providers.NewAzureKeyVaultStore("kv", config,
		providers.WithKeyVaultClient(client),
		providers.WithKeyVaultPolling(time.Millisecond, 5),
	)
	require.NoError(t, err)
	return store, client
}

func TestAzureKeyVaultConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config map[string]interface{}
	}{
		{"missing_url", map[string]interface{}{}},
		{"http_url", map[string]interface{}{"vault_url": "http://vault.vault.azure.net"}},
		{"no_host", map[string]interface{}{"vault_url": "https://"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := providers.NewAzureKeyVaultStore("kv", tt.config, providers.WithKeyVaultClient(fakes.NewFakeAzureKeyVaultClient()))
			var cfgErr dserrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "store.vault_url", cfgErr.Field)
		})
	}
}

func TestAzureKeyVaultGetSetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStore(t)
	assert.Equal(t, "kv", store.Name())

	_, err := store.Get(ctx, "github")
	assert.True(t, secretstore.IsNotFound(err))

	require.NoError(t, store.Set(ctx, "github", `{"name":"github"}`))
	assert.Equal(t, `{"name":"github"}`, client.Secrets["github"])

	value, err := store.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"github"}`, value)

	require.NoError(t, store.Delete(ctx, "github"))
	require.NoError(t, store.Delete(ctx, "github"), "deleting a missing secret succeeds")
	assert.NotContains(t, client.Secrets, "github")
}

func TestAzureKeyVaultDeleteThenSetReusesName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStore(t)
	client.DeleteLag = 2
	client.AddSecretString("github", "old")

	require.NoError(t, store.Delete(ctx, "github"))
	assert.NotContains(t, client.Deleted, "github", "the deleted secret is purged")

	require.NoError(t, store.Set(ctx, "github", "new"))
	value, err := store.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "new", value)
}

func TestAzureKeyVaultSetRecoversWhenPurgeIsDenied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStore(t)
	client.AddSecretString("github", "old")
	client.AddError("purge", "github", fakes.AzureForbiddenError())

	require.NoError(t, store.Delete(ctx, "github"), "a failed purge does not fail the delete")
	assert.Contains(t, client.Deleted, "github")
	_, err := store.Get(ctx, "github")
	assert.True(t, secretstore.IsNotFound(err))

	require.NoError(t, store.Set(ctx, "github", "new"))
	assert.Equal(t, "new", client.Secrets["github"])
	assert.NotContains(t, client.Deleted, "github")
}

func TestAzureKeyVaultRenameAndBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStoreWith(t, map[string]interface{}{"purge_on_delete": false})
	client.DeleteLag = 1
	client.AddSecretString("a", "1")

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Set(ctx, "b", "1"))
	require.NoError(t, store.Delete(ctx, "b"))
	require.NoError(t, store.Set(ctx, "a", "2"), "waits out the pending delete, then recovers")

	value, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
	assert.Contains(t, client.Deleted, "b")
}

func TestAzureKeyVaultSetGivesUpOnPersistentConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStoreWith(t, map[string]interface{}{"purge_on_delete": false})
	client.AddSecretString("github", "old")
	client.AddError("recover", "github", fakes.AzureConflictError())
	require.NoError(t, store.Delete(ctx, "github"))

	err := store.Set(ctx, "github", "new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting for soft-deleted secret github")
}

func TestAzureKeyVaultDeleteWithoutSoftDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStore(t)
	client.DisableSoftDelete = true
	client.AddSecretString("github", "old")
	client.AddError("getdeleted", "github", fakes.AzureForbiddenError())

	require.NoError(t, store.Delete(ctx, "github"))
	assert.Empty(t, client.Deleted)
	require.NoError(t, store.Set(ctx, "github", "new"))
}

func TestAzureKeyVaultErrorsPassThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStore(t)
	client.AddSecretString("github", "v")
	client.AddError("get", "github", fakes.AzureForbiddenError())
	client.AddError("set", "github", fakes.AzureThrottledError())
	client.AddError("delete", "github", fakes.AzureForbiddenError())

	_, err := store.Get(ctx, "github")
	require.Error(t, err)
	assert.False(t, secretstore.IsNotFound(err))

	assert.ErrorContains(t, store.Set(ctx, "github", "x"), "set secret github")
	assert.ErrorContains(t, store.Delete(ctx, "github"), "delete secret github")
}

func TestAzureKeyVaultListKeysTrimsVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStore(t)
	client.PageSize = 2
	for i := 0; i < 5; i++ {
		client.AddSecretString(fmt.Sprintf("item-%d", i), "v")
	}

	pager := store.ListKeys(ctx, 100)
	var pages int
	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		require.NoError(t, err)
		pages++
		for _, key := range page.Keys {
			assert.Equal(t, "https://test-vault.vault.azure.net/secrets/"+key.Name(), key.ID)
			names = append(names, key.Name())
		}
	}
	assert.Equal(t, 3, pages, "the vault's page size wins over the hint")
	assert.Equal(t, []string{"item-0", "item-1", "item-2", "item-3", "item-4"}, names)
}

func TestAzureKeyVaultListError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newKeyVaultStore(t)
	client.AddSecretString("a", "v")
	client.ListErr = fakes.AzureForbiddenError()

	_, err := secretstore.ListAll(ctx, store.ListKeys(ctx, 25))
	assert.ErrorContains(t, err, "list secrets")

	err = store.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access policies")
}

func TestAzureKeyVaultValidate(t *testing.T) {
	t.Parallel()
	store, client := newKeyVaultStore(t)
	client.AddSecretString("a", "v")

	require.NoError(t, store.Validate(context.Background()))
	assert.Equal(t, 1, client.ListCalls())
}
