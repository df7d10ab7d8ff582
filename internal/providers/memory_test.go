package providers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyrelay/internal/providers"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := providers.NewMemoryStore("mem", map[string]interface{}{
		"values": map[string]interface{}{"seeded": "v", "ignored": 42},
	})

	value, err := store.Get(ctx, "seeded")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
	_, err = store.Get(ctx, "ignored")
	assert.True(t, secretstore.IsNotFound(err))

	require.NoError(t, store.Set(ctx, "b", "2"))
	require.NoError(t, store.Set(ctx, "a", "1"))
	require.NoError(t, store.Delete(ctx, "seeded"))
	require.NoError(t, store.Delete(ctx, "seeded"))

	keys, err := secretstore.ListAll(ctx, store.ListKeys(ctx, 1))
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "a", keys[0].Name())
	assert.Equal(t, "memory/b", keys[1].ID)
	assert.NoError(t, store.Validate(ctx))
}
