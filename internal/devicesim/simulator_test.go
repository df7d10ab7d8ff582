package devicesim_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyrelay/internal/devicesim"
	"github.com/systmms/keyrelay/pkg/devicechannel"
)

const testConn = "HostName=sim.azure-devices.net;SharedAccessKeyName=service;SharedAccessKey=c2VjcmV0"

func open(t *testing.T, sim *devicesim.Simulator) devicechannel.Handle {
	t.Helper()
	h, err := sim.Open(testConn)
	require.NoError(t, err)
	return h
}

func TestSetSiteLoginData(t *testing.T) {
	t.Parallel()

	sim := devicesim.New()
	resp, err := open(t, sim).Invoke(context.Background(), devicechannel.Invocation{
		DeviceID: "sphere-01",
		Method:   devicesim.MethodSetSiteLoginData,
		Payload:  json.RawMessage(`{"Id":1,"Name":"github","Username":"bob","Password":"p1"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"Item loaded."}`, string(resp))

	got := sim.Received()
	require.Len(t, got, 1)
	assert.Equal(t, "sphere-01", got[0].DeviceID)
	assert.Equal(t, "p1", got[0].Credential.Password)
}

func TestSetSiteLoginDataInvalidPayload(t *testing.T) {
	t.Parallel()

	sim := devicesim.New()
	resp, err := open(t, sim).Invoke(context.Background(), devicechannel.Invocation{
		DeviceID: "d", Method: devicesim.MethodSetSiteLoginData, Payload: json.RawMessage(`42`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"Invalid parameter"}`, string(resp))
	assert.Empty(t, sim.Received())
}

func TestSetTelemetryInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		payload string
		want    string
		wantN   int
	}{
		{`15`, "Executed direct method: SetTelemetryInterval", 15},
		{`"20"`, "Executed direct method: SetTelemetryInterval", 20},
		{`"abc"`, "Invalid parameter", 100},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			t.Parallel()

			sim := devicesim.New()
			resp, err := open(t, sim).Invoke(context.Background(), devicechannel.Invocation{
				DeviceID: "d", Method: devicesim.MethodSetTelemetryInterval, Payload: json.RawMessage(tt.payload),
			})
			require.NoError(t, err)

			var body map[string]string
			require.NoError(t, json.Unmarshal(resp, &body))
			assert.Equal(t, tt.want, body["result"])
			assert.Equal(t, tt.wantN, sim.TelemetryInterval())
		})
	}
}

func TestUnregisteredDevice(t *testing.T) {
	t.Parallel()

	sim := devicesim.New(devicesim.WithDevices("sphere-01"))
	_, err := open(t, sim).Invoke(context.Background(), devicechannel.Invocation{DeviceID: "other", Method: devicesim.MethodSetSiteLoginData})
	assert.Equal(t, devicechannel.CodeDeviceNotRegistered, devicechannel.CodeOf(err))
}

func TestLatencyBeyondDeadlineTimesOut(t *testing.T) {
	t.Parallel()

	sim := devicesim.New(devicesim.WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := open(t, sim).Invoke(ctx, devicechannel.Invocation{DeviceID: "d", Method: devicesim.MethodSetSiteLoginData, Payload: json.RawMessage(`{}`)})
	assert.Equal(t, devicechannel.CodeDeviceTimeout, devicechannel.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnknownMethod(t *testing.T) {
	t.Parallel()

	_, err := open(t, devicesim.New()).Invoke(context.Background(), devicechannel.Invocation{DeviceID: "d", Method: "Reboot"})
	var ce *devicechannel.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 501, ce.Status)
}

func TestOpenValidatesDescriptor(t *testing.T) {
	t.Parallel()

	_, err := devicesim.New().Open("nope")
	assert.ErrorIs(t, err, devicechannel.ErrInvalidDescriptor)
}
