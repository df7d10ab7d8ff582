package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/keyrelay/internal/config"
	dserrors "github.com/systmms/keyrelay/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
version: 0
store:
  type: azure.keyvault
  vault_url: https://relay.vault.azure.net/
  use_managed_identity: true
`)

	cfg := &config.Config{Path: path}
	require.NoError(t, cfg.Load())
	def := cfg.Definition

	assert.Equal(t, "azure.keyvault", def.Store.Name)
	assert.Equal(t, "https://relay.vault.azure.net/", def.Store.Config["vault_url"])
	assert.Equal(t, true, def.Store.Config["use_managed_identity"])
	assert.NotContains(t, def.Store.Config, "type")
	assert.Equal(t, 30*time.Second, def.Store.GetStoreTimeout())

	keys := def.ConfigKeys.Keys()
	assert.Equal(t, "config-iothub-service", keys.ConnectionStringKey())
	assert.Equal(t, "config-sphere-device", keys.DeviceIDKey())

	assert.Equal(t, "iothub", def.Device.Channel)
	assert.Equal(t, "SetSiteLoginData", def.Device.MethodName)
	assert.Equal(t, 30*time.Second, def.Device.MethodTimeout())
	assert.Equal(t, ":8080", def.Server.Addr)
	assert.Equal(t, "/metrics", def.Server.MetricsPath)
}

func TestLoadExplicitValues(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
store:
  type: aws.ssm
  name: prod-ssm
  timeout_ms: 1500
  page_size: 10
  path: /relay
config_keys:
  prefix: cfg.
  iot_hub_service: hub
  device_name: device
device:
  channel: simulator
  method_timeout_seconds: 60
  default_name: sphere-01
server:
  addr: 127.0.0.1:9000
  metrics_path: /prom
`)

	cfg := &config.Config{Path: path}
	require.NoError(t, cfg.Load())
	def := cfg.Definition

	assert.Equal(t, "prod-ssm", def.Store.Name)
	assert.Equal(t, 1500*time.Millisecond, def.Store.GetStoreTimeout())
	assert.Equal(t, 10, def.Store.PageSize)
	assert.Equal(t, "/relay", def.Store.Config["path"])
	assert.Equal(t, "cfg.hub", def.ConfigKeys.Keys().ConnectionStringKey())
	assert.Equal(t, "simulator", def.Device.Channel)
	assert.Equal(t, "sphere-01", def.Device.DefaultName)
	assert.Equal(t, time.Minute, def.Device.MethodTimeout())
	assert.Equal(t, "/prom", def.Server.MetricsPath)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"bad_yaml", "store: [unterminated", "invalid YAML syntax"},
		{"missing_store", "version: 0\n", "store"},
		{"unknown_store_type", "store:\n  type: vault\n", "store.type"},
		{"bad_version", "version: 2\nstore:\n  type: memory\n", "version"},
		{"unknown_section", "store:\n  type: memory\nextra: true\n", "extra"},
		{"timeout_out_of_range", "store:\n  type: memory\ndevice:\n  method_timeout_seconds: 1\n", "method_timeout_seconds"},
		{"bad_channel", "store:\n  type: memory\ndevice:\n  channel: mqtt\n", "channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Path: writeConfig(t, tt.body)}
			err := cfg.Load()
			var cfgErr dserrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Error(), tt.wantMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Path: filepath.Join(t.TempDir(), "nope.yaml")}

	err := cfg.Load()
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(config.EnvPath, "")
	assert.Equal(t, config.DefaultPath, config.ResolvePath(""))

	t.Setenv(config.EnvPath, "/etc/keyrelay.yaml")
	assert.Equal(t, "/etc/keyrelay.yaml", config.ResolvePath(""))
	assert.Equal(t, "flag.yaml", config.ResolvePath("flag.yaml"))
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	def, err := config.Parse([]byte("store:\n  type: memory\n"))
	require.NoError(t, err)

	out, err := def.Marshal()
	require.NoError(t, err)
	again, err := config.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}
