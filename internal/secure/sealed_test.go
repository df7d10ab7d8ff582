package secure

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealReveal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
	}{
		{"connection string", "HostName=hub.azure-devices.net;SharedAccessKeyName=service;SharedAccessKey=c2VjcmV0"},
		{"empty", ""},
		{"binary-ish", "\x00\xff\x10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := Seal(tt.value)
			got, err := s.Reveal()
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
			assert.Equal(t, tt.value == "", s.Empty())
			assert.True(t, s.Equal(tt.value))
		})
	}
}

func TestSealDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	in := "secret-value"
	s := Seal(in)
	assert.Equal(t, "secret-value", in)

	got, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestSealedNeverFormatsPlaintext(t *testing.T) {
	t.Parallel()

	s := Seal("hunter2")
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	s := Seal("secret")
	s.Destroy()
	s.Destroy()

	_, err := s.Reveal()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.False(t, s.Equal("secret"))
}

func TestNilSealed(t *testing.T) {
	t.Parallel()

	var s *Sealed
	got, err := s.Reveal()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, s.Empty())
	s.Destroy()
}
