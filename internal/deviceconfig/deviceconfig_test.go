package deviceconfig_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyrelay/internal/deviceconfig"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/tests/fakes"
)

var testKeys = deviceconfig.Keys{
	Prefix:           "config-",
	ConnectionString: "iothub-service",
	DeviceID:         "sphere-device",
}

const testConn = "HostName=hub.azure-devices.net;SharedAccessKeyName=service;SharedAccessKey=c2VjcmV0"

func TestReadLoadsOnce(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeSecretStore("kv").
		WithValue("config-iothub-service", testConn).
		WithValue("config-sphere-device", "sphere-01")
	svc := deviceconfig.New(store, testKeys)
	ctx := context.Background()

	rec, err := svc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, deviceconfig.Record{ConnectionString: testConn, DeviceID: "sphere-01"}, rec)

	_, err = svc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.CallCount(fakes.OpGet))
}

func TestReadMissingKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		defaultDevice string
		want          deviceconfig.Record
	}{
		{"no default", "", deviceconfig.Record{}},
		{"default device", "sphere-default", deviceconfig.Record{DeviceID: "sphere-default"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := deviceconfig.New(fakes.NewFakeSecretStore("kv"), testKeys, deviceconfig.WithDefaultDeviceID(tt.defaultDevice))
			rec, err := svc.Read(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec)
		})
	}
}

func TestReadStoreErrorIsNotCached(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeSecretStore("kv").
		WithValue("config-iothub-service", testConn).
		WithError(fakes.OpGet, "config-iothub-service", errors.New("forbidden"))
	svc := deviceconfig.New(store, testKeys)
	ctx := context.Background()

	_, err := svc.Read(ctx)
	require.Error(t, err)

	store.ClearErrors()
	rec, err := svc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, testConn, rec.ConnectionString)
}

func TestWriteOnlyChangedNonEmptyFields(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeSecretStore("kv").
		WithValue("config-iothub-service", testConn).
		WithValue("config-sphere-device", "sphere-01")
	svc := deviceconfig.New(store, testKeys)
	ctx := context.Background()

	require.NoError(t, svc.Write(ctx, deviceconfig.Record{ConnectionString: testConn, DeviceID: "sphere-02"}))
	assert.Equal(t, 1, store.CallCount(fakes.OpSet))

	require.NoError(t, svc.Write(ctx, deviceconfig.Record{}))
	assert.Equal(t, 1, store.CallCount(fakes.OpSet))

	v, _ := store.Value("config-sphere-device")
	assert.Equal(t, "sphere-02", v)

	rec, err := svc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sphere-02", rec.DeviceID)
	assert.Equal(t, testConn, rec.ConnectionString)
}

func TestWritePartialFailureKeepsSuccessfulField(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeSecretStore("kv").
		WithError(fakes.OpSet, "config-iothub-service", errors.New("forbidden"))
	svc := deviceconfig.New(store, testKeys)
	ctx := context.Background()

	err := svc.Write(ctx, deviceconfig.Record{ConnectionString: testConn, DeviceID: "sphere-09"})
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrStoreWriteFailed)
	assert.Contains(t, err.Error(), "forbidden")

	rec, err := svc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sphere-09", rec.DeviceID)
	assert.Empty(t, rec.ConnectionString)
}

func TestInvalidateRereads(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeSecretStore("kv").WithValue("config-sphere-device", "a")
	svc := deviceconfig.New(store, testKeys)
	ctx := context.Background()

	_, err := svc.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "config-sphere-device", "b"))

	svc.Invalidate()
	rec, err := svc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.DeviceID)
}

func TestKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "config-iothub-service", testKeys.ConnectionStringKey())
	assert.Equal(t, "config-sphere-device", testKeys.DeviceIDKey())
}
