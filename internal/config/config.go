package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/systmms/keyrelay/internal/deviceconfig"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor KEYRELAY_CONFIG is set.
const DefaultPath = "keyrelay.yaml"

// EnvPath overrides DefaultPath.
const EnvPath = "KEYRELAY_CONFIG"

//go:embed schema.json
var schema []byte

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the keyrelay.yaml structure
type Definition struct {
	Version    int          `yaml:"version"`
	Store      StoreConfig  `yaml:"store"`
	ConfigKeys ConfigKeys   `yaml:"config_keys,omitempty"`
	Device     DeviceConfig `yaml:"device,omitempty"`
	Server     ServerConfig `yaml:"server,omitempty"`
}

// StoreConfig selects the secret store backend. Keys other than the ones
// named here are passed to the backend untouched.
type StoreConfig struct {
	Type      string                 `yaml:"type"`
	Name      string                 `yaml:"name,omitempty"`
	TimeoutMs int                    `yaml:"timeout_ms,omitempty"`
	PageSize  int                    `yaml:"page_size,omitempty"`
	Config    map[string]interface{} `yaml:",inline"`
}

// ConfigKeys names the store keys that hold device configuration.
type ConfigKeys struct {
	Prefix        string `yaml:"prefix,omitempty"`
	IoTHubService string `yaml:"iot_hub_service,omitempty"`
	DeviceName    string `yaml:"device_name,omitempty"`
}

// DeviceConfig controls how records are pushed to devices.
type DeviceConfig struct {
	Channel              string `yaml:"channel,omitempty"`
	MethodName           string `yaml:"method_name,omitempty"`
	MethodTimeoutSeconds int    `yaml:"method_timeout_seconds,omitempty"`
	DefaultName          string `yaml:"default_name,omitempty"`
	// Endpoint replaces https://<HostName> from the connection string.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// ServerConfig configures `keyrelay serve`.
type ServerConfig struct {
	Addr        string `yaml:"addr,omitempty"`
	MetricsPath string `yaml:"metrics_path,omitempty"`
}

// ResolvePath returns flagPath, then $KEYRELAY_CONFIG, then DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads, validates and parses the keyrelay.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create keyrelay.yaml or point --config / KEYRELAY_CONFIG at an existing file",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	c.Definition = def
	if c.Logger != nil {
		c.Logger.Debug("Loaded %s (store type %s)", c.Path, def.Store.Type)
	}
	return nil
}

// Parse validates data against the embedded schema and decodes it with
// defaults applied.
func Parse(data []byte) (*Definition, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	if err := validateWithSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    fmt.Sprintf("cannot decode configuration: %v", err),
			Suggestion: "Check value types against the documented keyrelay.yaml fields",
		}
	}
	def.applyDefaults()
	return &def, nil
}

func validateWithSchema(doc map[string]interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal data for validation: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]
	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return dserrors.ConfigError{
		Field:      first.Field(),
		Message:    "schema validation failed: " + strings.Join(messages, "; "),
		Suggestion: "Compare keyrelay.yaml with the example in the README",
	}
}

func (d *Definition) applyDefaults() {
	if d.Store.Name == "" {
		d.Store.Name = d.Store.Type
	}
	if d.Store.Config == nil {
		d.Store.Config = map[string]interface{}{}
	}
	if d.ConfigKeys.Prefix == "" {
		d.ConfigKeys.Prefix = "config-"
	}
	if d.ConfigKeys.IoTHubService == "" {
		d.ConfigKeys.IoTHubService = "iothub-service"
	}
	if d.ConfigKeys.DeviceName == "" {
		d.ConfigKeys.DeviceName = "sphere-device"
	}
	if d.Device.Channel == "" {
		d.Device.Channel = "iothub"
	}
	if d.Device.MethodName == "" {
		d.Device.MethodName = "SetSiteLoginData"
	}
	if d.Device.MethodTimeoutSeconds == 0 {
		d.Device.MethodTimeoutSeconds = 30
	}
	if d.Server.Addr == "" {
		d.Server.Addr = ":8080"
	}
	if d.Server.MetricsPath == "" {
		d.Server.MetricsPath = "/metrics"
	}
}

// GetStoreTimeout returns the per-call store timeout (default 30s).
func (s StoreConfig) GetStoreTimeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Keys converts the configured names for the device configuration service.
func (k ConfigKeys) Keys() deviceconfig.Keys {
	return deviceconfig.Keys{
		Prefix:           k.Prefix,
		ConnectionString: k.IoTHubService,
		DeviceID:         k.DeviceName,
	}
}

// MethodTimeout returns the direct-method timeout.
func (d DeviceConfig) MethodTimeout() time.Duration {
	return time.Duration(d.MethodTimeoutSeconds) * time.Second
}

// Marshal renders the definition back to YAML for `config show`.
func (d *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
