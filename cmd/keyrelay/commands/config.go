package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	"github.com/systmms/keyrelay/internal/deviceconfig"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/iothub"
)

// sensitiveStoreKeys are masked by `config show`.
var sensitiveStoreKeys = []string{"secret", "password", "dsn", "token", "values", "access_key"}

func NewConfigCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
		Long: `Show the effective keyrelay.yaml and the device configuration, or store
a new IoT Hub connection string and device name in the secret store.`,
	}

	cmd.AddCommand(
		newConfigShowCommand(cfg),
		newConfigSetCommand(cfg),
	)

	return cmd
}

func newConfigShowCommand(cfg *config.Config) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			data, err := redactedDefinition(cfg.Definition).Marshal()
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "# %s\n%s", cfg.Path, data)
			if local {
				return nil
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			rec, err := rt.configs.Read(context.Background())
			if err != nil {
				return dserrors.StoreError(cfg.Definition.Store.Type, "config show", err)
			}
			keys := rt.configs.Keys()
			_, _ = fmt.Fprintf(out, "\n# device configuration (%s)\n", rt.store.Name())
			_, _ = fmt.Fprintf(out, "%s: %s\n", keys.ConnectionStringKey(), redactedConnectionString(rec.ConnectionString))
			_, _ = fmt.Fprintf(out, "%s: %s\n", keys.DeviceIDKey(), orNotSet(rec.DeviceID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Skip reading the device configuration from the store")

	return cmd
}

func newConfigSetCommand(cfg *config.Config) *cobra.Command {
	var (
		connectionString string
		deviceName       string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the IoT Hub connection string and device name",
		Long: `Store the IoT Hub service connection string and the target device name in
the secret store. Only the values given are written.

Example:
  keyrelay config set --connection-string "HostName=hub.azure-devices.net;SharedAccessKeyName=service;SharedAccessKey=..." --device-name sphere-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectionString == "" && deviceName == "" {
				return dserrors.UserError{
					Message:    "Nothing to set",
					Suggestion: "Pass --connection-string and/or --device-name",
				}
			}
			if connectionString != "" {
				if _, err := iothub.ParseConnectionString(connectionString); err != nil {
					return dserrors.UserError{
						Message:    "Invalid IoT Hub service connection string",
						Details:    err.Error(),
						Suggestion: "Copy the connection string of a shared access policy with service connect permission",
						Err:        err,
					}
				}
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			err = rt.configs.Write(context.Background(), deviceconfig.Record{
				ConnectionString: connectionString,
				DeviceID:         deviceName,
			})
			if err != nil {
				return dserrors.SimplifyError(err)
			}

			cfg.Logger.Info("Device configuration saved to %s", rt.store.Name())
			return nil
		},
	}

	cmd.Flags().StringVar(&connectionString, "connection-string", "", "IoT Hub service connection string")
	cmd.Flags().StringVar(&deviceName, "device-name", "", "Target device name")

	return cmd
}

// redactedDefinition returns a copy of def with sensitive store settings masked.
func redactedDefinition(def *config.Definition) *config.Definition {
	copied := *def
	copied.Store.Config = make(map[string]interface{}, len(def.Store.Config))
	for k, v := range def.Store.Config {
		if isSensitiveKey(k) {
			v = "********"
		}
		copied.Store.Config[k] = v
	}
	return &copied
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveStoreKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
