package server_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyrelay/internal/credsync"
	"github.com/systmms/keyrelay/internal/deviceconfig"
	"github.com/systmms/keyrelay/internal/dispatch"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/server"
	"github.com/systmms/keyrelay/pkg/credential"
	"github.com/systmms/keyrelay/pkg/devicechannel"
	"github.com/systmms/keyrelay/tests/fakes"
)

const testConn = "HostName=hub.azure-devices.net;SharedAccessKeyName=service;SharedAccessKey=c2VjcmV0"

type fixture struct {
	store   *fakes.FakeSecretStore
	channel *fakes.FakeChannel
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: fakes.NewFakeSecretStore("kv").
			WithValue("config-iothub-service", testConn).
			WithValue("config-sphere-device", "sphere-01"),
		channel: fakes.NewFakeChannel(),
	}
	engine := credsync.New(f.store, credsync.WithConfigPrefix("config-"))
	configs := deviceconfig.New(f.store, deviceconfig.Keys{
		Prefix:           "config-",
		ConnectionString: "iothub-service",
		DeviceID:         "sphere-device",
	})
	sender := dispatch.New(engine, configs, f.channel, dispatch.Options{Timeout: 5 * time.Second})
	s := server.New(engine, sender, server.Options{MetricsPath: "/metrics"})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestItemCRUD(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/item", `{"Name":"github","Username":"bob","Password":"p1","Uri":"github.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[credential.Credential](t, resp)
	assert.Equal(t, 1, created.ID)

	resp = f.do(t, http.MethodGet, "/api/item", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]credential.Credential](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "github", list[0].Name)

	resp = f.do(t, http.MethodGet, "/api/item/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	read := decode[credential.Credential](t, resp)
	assert.Equal(t, "p1", read.Password)

	resp = f.do(t, http.MethodPut, "/api/item/1", `{"Name":"github","Username":"bob","Password":"p2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored, ok := f.store.Value("github")
	require.True(t, ok)
	assert.Contains(t, stored, `"Password":"p2"`)

	resp = f.do(t, http.MethodDelete, "/api/item/1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok = f.store.Value("github")
	assert.False(t, ok)

	resp = f.do(t, http.MethodGet, "/api/item/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "not_found", body["kind"])
}

func TestCreateRejectsInvalidAndDuplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/item", `{"Name":"bad name!","Password":"p"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Problems map[string]string `json:"problems"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Problems, "name")

	resp = f.do(t, http.MethodPost, "/api/item", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/item", `{"Name":"github","Password":"p"}`).StatusCode)
	resp = f.do(t, http.MethodPost, "/api/item", `{"Name":"github","Password":"p"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateRejectsConfigKeyName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/item", `{"Name":"config-iothub-service","Password":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "reserved_name", body["kind"])

	stored, ok := f.store.Value("config-iothub-service")
	require.True(t, ok)
	assert.Equal(t, testConn, stored)

	resp = f.do(t, http.MethodPost, "/api/iot/send/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStoreWriteFailureIsBadGateway(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.WithError(fakes.OpSet, "github", errors.New("throttled"))

	resp := f.do(t, http.MethodPost, "/api/item", `{"Name":"github","Password":"p"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "store_write_failed", body["kind"])
}

func TestSendEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/item", `{"Name":"github","Password":"p"}`).StatusCode)

	resp := f.do(t, http.MethodPost, "/api/iot/send/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Item loaded.", decode[map[string]string](t, resp)["result"])

	invocations := f.channel.Invocations()
	require.Len(t, invocations, 1)
	assert.Equal(t, "sphere-01", invocations[0].DeviceID)
}

func TestSendErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"timeout", &devicechannel.Error{Code: devicechannel.CodeDeviceTimeout}, http.StatusGatewayTimeout, "ERROR: Timeout connecting device"},
		{"gateway_timeout", &devicechannel.Error{Code: devicechannel.CodeGatewayTimeout}, http.StatusGatewayTimeout, "ERROR: Timeout connecting device"},
		{"not_registered", &devicechannel.Error{Code: devicechannel.CodeDeviceNotRegistered}, http.StatusNotFound, "ERROR: Device not registered in IoT Hub"},
		{"unreachable", errors.New("dial tcp: refused"), http.StatusBadGateway, "ERROR: Device not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.channel.InvokeErr = tt.err
			require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/item", `{"Name":"github","Password":"p"}`).StatusCode)

			resp := f.do(t, http.MethodPost, "/api/iot/send/1", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.msg, decode[map[string]string](t, resp)["error"])
		})
	}

	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/iot/send/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidator(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/item", `{"Name":"github","Password":"p"}`).StatusCode)

	assert.False(t, decode[bool](t, f.do(t, http.MethodGet, "/api/validator?name=github", "")))
	assert.True(t, decode[bool](t, f.do(t, http.MethodGet, "/api/validator?name=mail", "")))
	assert.False(t, decode[bool](t, f.do(t, http.MethodGet, "/api/validator?Item.Name=github", "")))
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusFailedDependency, server.StatusFor(dserrors.KindInvalidConnectionDescriptor))
	assert.Equal(t, http.StatusBadGateway, server.StatusFor(dserrors.KindResponseParseFailure))
	assert.Equal(t, http.StatusBadRequest, server.StatusFor(dserrors.KindReservedName))
	assert.Equal(t, http.StatusInternalServerError, server.StatusFor(dserrors.KindUnknown))
}
