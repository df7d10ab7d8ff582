package providers_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/providers"
	"github.com/systmms/keyrelay/pkg/secretstore"
	"github.com/systmms/keyrelay/tests/fakes"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newGCPStore(t *testing.T) (*providers.GCPSecretManagerStore, *fakes.FakeGCPSecretManagerClient) {
	t.Helper()
	client := fakes.NewFakeGCPSecretManagerClient()
	store, err := providers.NewGCPSecretManagerStore("gsm", map[string]interface{}{
		"project_id": "relay-prod",
	}, providers.WithGCPClient(client))
	require.NoError(t, err)
	return store, client
}

func TestGCPRequiresProject(t *testing.T) {
	t.Parallel()
	_, err := providers.NewGCPSecretManagerStore("gsm", map[string]interface{}{}, providers.WithGCPClient(fakes.NewFakeGCPSecretManagerClient()))
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "store.project_id", cfgErr.Field)
}

func TestGCPSetCreatesSecretOnFirstWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newGCPStore(t)

	require.NoError(t, store.Set(ctx, "github", "v1"))
	require.NoError(t, store.Set(ctx, "github", "v2"))
	assert.Equal(t, []byte("v2"), client.Secrets["projects/relay-prod/secrets/github"])

	value, err := store.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)
}

func TestGCPGetMissing(t *testing.T) {
	t.Parallel()
	store, _ := newGCPStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.True(t, secretstore.IsNotFound(err))
}

func TestGCPDeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newGCPStore(t)
	client.AddSecretString("relay-prod", "github", "v")

	require.NoError(t, store.Delete(ctx, "github"))
	require.NoError(t, store.Delete(ctx, "github"))
	assert.Empty(t, client.Secrets)

	client.AddError("delete", "projects/relay-prod/secrets/locked", status.Error(codes.PermissionDenied, "denied"))
	assert.Error(t, store.Delete(ctx, "locked"))
}

func TestGCPSetCreateFailure(t *testing.T) {
	t.Parallel()
	store, client := newGCPStore(t)
	client.AddError("create", "projects/relay-prod/secrets/github", status.Error(codes.PermissionDenied, "denied"))

	assert.ErrorContains(t, store.Set(context.Background(), "github", "v"), "create secret github")
}

func TestGCPListKeysPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newGCPStore(t)
	for i := 0; i < 5; i++ {
		client.AddSecretString("relay-prod", fmt.Sprintf("item-%d", i), "v")
	}
	client.AddSecretString("other-project", "item-x", "v")

	pager := store.ListKeys(ctx, 2)
	var sizes []int
	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		require.NoError(t, err)
		sizes = append(sizes, len(page.Keys))
		for _, k := range page.Keys {
			names = append(names, k.Name())
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []string{"item-0", "item-1", "item-2", "item-3", "item-4"}, names)
}

func TestGCPListAndValidateErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, client := newGCPStore(t)
	client.AddError("list", "projects/relay-prod", status.Error(codes.PermissionDenied, "PermissionDenied"))

	_, err := secretstore.ListAll(ctx, store.ListKeys(ctx, 10))
	assert.Error(t, err)
	assert.ErrorContains(t, store.Validate(ctx), "roles/secretmanager")
}
