package secretstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

func TestKeyDescriptorName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want string
	}{
		{"https://my-vault.vault.azure.net/secrets/github", "github"},
		{"/keyrelay/router-admin", "router-admin"},
		{"projects/p/secrets/mail", "mail"},
		{"plain", "plain"},
		{"trailing/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, secretstore.KeyDescriptor{ID: tt.id}.Name())
		})
	}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	nf := secretstore.NotFoundError{Store: "kv", Key: "github"}
	assert.True(t, secretstore.IsNotFound(nf))
	assert.True(t, secretstore.IsNotFound(&nf))
	assert.True(t, secretstore.IsNotFound(fmt.Errorf("get: %w", nf)))
	assert.False(t, secretstore.IsNotFound(errors.New("secret not found")))
	assert.Equal(t, "secret not found: github in store kv", nf.Error())
}

func TestSlicePagerPages(t *testing.T) {
	t.Parallel()

	var keys []secretstore.KeyDescriptor
	for i := 0; i < 7; i++ {
		keys = append(keys, secretstore.KeyDescriptor{ID: fmt.Sprintf("k%d", i)})
	}

	pager := secretstore.NewSlicePager(keys, 3)
	var sizes []int
	for pager.More() {
		page, err := pager.NextPage(context.Background())
		require.NoError(t, err)
		sizes = append(sizes, len(page.Keys))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestSlicePagerEmpty(t *testing.T) {
	t.Parallel()

	pager := secretstore.NewSlicePager(nil, 0)
	assert.False(t, pager.More())

	all, err := secretstore.ListAll(context.Background(), pager)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestErrorPager(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := secretstore.ListAll(context.Background(), secretstore.ErrorPager(boom))
	assert.ErrorIs(t, err, boom)
}
