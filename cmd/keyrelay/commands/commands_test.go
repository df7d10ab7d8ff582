package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyrelay/internal/config"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/internal/providers"
	"github.com/systmms/keyrelay/pkg/credential"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

const testConn = "HostName=hub.azure-devices.net;SharedAccessKeyName=service;SharedAccessKey=c2VjcmV0"

type testEnv struct {
	cfg   *config.Config
	store *providers.MemoryStore
	logs  *bytes.Buffer
}

// newTestEnv writes a memory-store configuration and makes every command
// of the test share one store.
func newTestEnv(t *testing.T, configYAML string) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "keyrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	env := &testEnv{
		store: providers.NewMemoryStore("memory", nil),
		logs:  &bytes.Buffer{},
	}
	env.cfg = &config.Config{
		Path:   path,
		Logger: logging.NewWithWriter(env.logs, false, true),
	}

	previous := openStore
	openStore = func(*config.Config) (secretstore.Store, error) {
		return env.store, nil
	}
	t.Cleanup(func() { openStore = previous })
	return env
}

func newSimulatorEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, "store:\n  type: memory\ndevice:\n  channel: simulator\n")
	ctx := context.Background()
	require.NoError(t, env.store.Set(ctx, "config-iothub-service", testConn))
	require.NoError(t, env.store.Set(ctx, "config-sphere-device", "sphere-01"))
	return env
}

func (e *testEnv) run(t *testing.T, newCmd func(*config.Config) *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCmd(e.cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, newCmd func(*config.Config) *cobra.Command, args ...string) string {
	t.Helper()
	out, err := e.run(t, newCmd, args...)
	require.NoError(t, err, out)
	return out
}

func (e *testEnv) stored(t *testing.T, key string) credential.Credential {
	t.Helper()
	value, err := e.store.Get(context.Background(), key)
	require.NoError(t, err)
	c, err := credential.Decode(value)
	require.NoError(t, err)
	return c
}

func TestAddListAndGet(t *testing.T) {
	env := newSimulatorEnv(t)

	out := env.mustRun(t, NewAddCommand, "--name", "github", "--username", "octocat", "--password", "s3cret",
		"--uri", "https://github.com/login", "--password-enter")
	assert.Equal(t, "1\n", out)
	assert.Contains(t, env.logs.String(), "Added github")
	env.mustRun(t, NewAddCommand, "--name", "azure", "--username", "ops")

	stored := env.stored(t, "github")
	assert.Equal(t, "octocat", stored.Username)
	assert.True(t, stored.PasswordEnter)
	assert.False(t, stored.UsernameEnter)

	out = env.mustRun(t, NewListCommand)
	assert.Contains(t, out, "azure")
	assert.Contains(t, out, "github")
	assert.NotContains(t, out, "config-")
	assert.Less(t, strings.Index(out, "azure"), strings.Index(out, "github"))

	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, NewListCommand, "--json")), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "azure", entries[0].Name)
	assert.Equal(t, "github", entries[1].Name)

	out = env.mustRun(t, NewGetCommand, "github")
	assert.Contains(t, out, "octocat")
	assert.Contains(t, out, "https://github.com/login")
	assert.NotContains(t, out, "s3cret")

	var item credential.Credential
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, NewGetCommand, "github", "--json", "--show-password")), &item))
	assert.Equal(t, "s3cret", item.Password)
	assert.Equal(t, "github", item.Name)
}

func TestListEmpty(t *testing.T) {
	env := newSimulatorEnv(t)

	assert.Contains(t, env.mustRun(t, NewListCommand), "No items stored")
}

func TestAddRejectsInvalidInput(t *testing.T) {
	env := newSimulatorEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing name", []string{"--username", "x"}, "No item name given"},
		{"bad characters", []string{"--name", "bad name!"}, "Invalid item"},
		{"name too long", []string{"--name", strings.Repeat("a", credential.MaxNameLength+1)}, "Invalid item"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, NewAddCommand, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAddDuplicateName(t *testing.T) {
	env := newSimulatorEnv(t)
	env.mustRun(t, NewAddCommand, "--name", "github", "--username", "first")

	_, err := env.run(t, NewAddCommand, "--name", "github", "--username", "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name already exists")
	assert.Equal(t, "first", env.stored(t, "github").Username)
}

func TestAddAndRenameRejectConfigKeyNames(t *testing.T) {
	env := newSimulatorEnv(t)

	_, err := env.run(t, NewAddCommand, "--name", "config-iothub-service", "--password", "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name is reserved")
	value, err := env.store.Get(context.Background(), "config-iothub-service")
	require.NoError(t, err)
	assert.Equal(t, testConn, value)

	env.mustRun(t, NewAddCommand, "--name", "github")
	_, err = env.run(t, NewEditCommand, "github", "--rename", "config-sphere-device")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name is reserved")
	assert.Equal(t, "true\n", env.mustRun(t, NewExistsCommand, "github"))
}

func TestEditChangesOnlyGivenFields(t *testing.T) {
	env := newSimulatorEnv(t)
	env.mustRun(t, NewAddCommand, "--name", "github", "--username", "octocat", "--password", "old", "--tab")

	env.mustRun(t, NewEditCommand, "github", "--password", "new")

	stored := env.stored(t, "github")
	assert.Equal(t, "octocat", stored.Username)
	assert.Equal(t, "new", stored.Password)
	assert.True(t, stored.UnameTabPass)
	assert.Contains(t, env.logs.String(), "Updated github")
}

func TestEditRename(t *testing.T) {
	env := newSimulatorEnv(t)
	env.mustRun(t, NewAddCommand, "--name", "github", "--username", "octocat")
	env.mustRun(t, NewAddCommand, "--name", "azure")

	env.mustRun(t, NewEditCommand, "github", "--rename", "gitlab")

	_, err := env.store.Get(context.Background(), "github")
	assert.True(t, secretstore.IsNotFound(err))
	assert.Equal(t, "octocat", env.stored(t, "gitlab").Username)
	assert.Contains(t, env.logs.String(), "Renamed github to gitlab")

	_, err = env.run(t, NewEditCommand, "gitlab", "--rename", "azure")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name already exists")
}

func TestEditUnknownItem(t *testing.T) {
	env := newSimulatorEnv(t)

	_, err := env.run(t, NewEditCommand, "missing", "--username", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Item not found")
}

func TestRemoveAndExists(t *testing.T) {
	env := newSimulatorEnv(t)
	env.mustRun(t, NewAddCommand, "--name", "github")

	assert.Equal(t, "true\n", env.mustRun(t, NewExistsCommand, "github"))

	env.mustRun(t, NewRemoveCommand, "github")
	assert.Contains(t, env.logs.String(), "Deleted github")

	assert.Equal(t, "false\n", env.mustRun(t, NewExistsCommand, "github"))
	_, err := env.run(t, NewExistsCommand, "github", "--quiet")
	assert.Error(t, err)

	_, err = env.run(t, NewRemoveCommand, "github")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Item not found")
}

func TestSendToSimulatedDevice(t *testing.T) {
	env := newSimulatorEnv(t)
	env.mustRun(t, NewAddCommand, "--name", "github", "--username", "octocat", "--password", "s3cret")

	out := env.mustRun(t, NewSendCommand, "github")
	assert.Equal(t, "Item loaded.\n", out)
}

func TestSendWithoutConnectionString(t *testing.T) {
	env := newTestEnv(t, "store:\n  type: memory\ndevice:\n  channel: simulator\n")
	env.mustRun(t, NewAddCommand, "--name", "github")

	_, err := env.run(t, NewSendCommand, "github")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Iot Hub Service Connection String")
}

func TestConfigShowRedacts(t *testing.T) {
	env := newTestEnv(t, `store:
  type: memory
  values:
    seeded: hidden-value
  client_secret: hunter2
device:
  channel: simulator
`)
	require.NoError(t, env.store.Set(context.Background(), "config-iothub-service", testConn))

	out := env.mustRun(t, NewConfigCommand, "show")
	assert.Contains(t, out, "type: memory")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "hidden-value")
	assert.Contains(t, out, "HostName=hub.azure-devices.net")
	assert.NotContains(t, out, "c2VjcmV0")
	assert.Contains(t, out, "config-sphere-device: (not set)")

	out = env.mustRun(t, NewConfigCommand, "show", "--local")
	assert.NotContains(t, out, "device configuration")
}

func TestConfigSet(t *testing.T) {
	env := newSimulatorEnv(t)

	env.mustRun(t, NewConfigCommand, "set", "--device-name", "sphere-02")
	value, err := env.store.Get(context.Background(), "config-sphere-device")
	require.NoError(t, err)
	assert.Equal(t, "sphere-02", value)

	_, err = env.run(t, NewConfigCommand, "set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nothing to set")

	_, err = env.run(t, NewConfigCommand, "set", "--connection-string", "HostName=only")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid IoT Hub service connection string")
	value, err = env.store.Get(context.Background(), "config-iothub-service")
	require.NoError(t, err)
	assert.Equal(t, testConn, value)
}

func TestDoctor(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		env := newSimulatorEnv(t)

		out := env.mustRun(t, NewDoctorCommand)
		assert.Contains(t, out, "hub hub.azure-devices.net")
		assert.Contains(t, out, "device sphere-01")
		assert.Contains(t, out, "Summary: 4/4 checks passed")
	})

	t.Run("missing connection string", func(t *testing.T) {
		env := newTestEnv(t, "store:\n  type: memory\n")

		out, err := env.run(t, NewDoctorCommand, "--verbose")
		require.Error(t, err)
		assert.Contains(t, out, "✗ error")
		assert.Contains(t, out, "keyrelay config set --connection-string")
	})
}

func TestStores(t *testing.T) {
	env := newSimulatorEnv(t)

	out := env.mustRun(t, NewStoresCommand)
	for _, storeType := range []string{"azure.keyvault", "aws.secretsmanager", "aws.ssm", "gcp.secretmanager", "keychain", "postgres", "mysql", "memory"} {
		assert.Contains(t, out, storeType)
	}
	assert.Contains(t, out, "Configured store: memory (memory, configured)")
}

func TestMissingConfigFile(t *testing.T) {
	cfg := &config.Config{
		Path:   filepath.Join(t.TempDir(), "absent.yaml"),
		Logger: logging.Discard(),
	}
	cmd := NewListCommand(cfg)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestDemoServer(t *testing.T) {
	cfg := &config.Config{
		Path:   filepath.Join(t.TempDir(), "absent.yaml"),
		Logger: logging.Discard(),
	}
	require.NoError(t, useDemoDefinition(cfg))
	assert.Equal(t, "memory", cfg.Definition.Store.Type)
	assert.Equal(t, "simulator", cfg.Definition.Device.Channel)

	rt, err := newRuntime(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(newServer(rt).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/item", "application/json",
		strings.NewReader(`{"Name":"github","Username":"octocat","Password":"s3cret"}`))
	require.NoError(t, err)
	var created credential.Credential
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/iot/send/"+strconv.Itoa(created.ID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Item loaded.", body["result"])
}
