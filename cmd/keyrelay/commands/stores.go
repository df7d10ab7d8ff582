package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	"github.com/systmms/keyrelay/internal/secretstores"
)

func NewStoresCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stores",
		Short: "List supported secret store types",
		Long: `Display the secret store types keyrelay can use and the store selected
by the configuration file, if one is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := secretstores.NewRegistry(cfg.Logger)
			out := cmd.OutOrStdout()

			_, _ = fmt.Fprintln(out, "Supported Store Types:")
			_, _ = fmt.Fprintln(out, "======================")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TYPE\tDESCRIPTION\n")
			_, _ = fmt.Fprintf(w, "----\t-----------\n")
			for _, storeType := range registry.GetSupportedTypes() {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", storeType, getStoreDescription(storeType))
			}
			_ = w.Flush()

			if err := cfg.Load(); err != nil {
				cfg.Logger.Debug("No configured store: %v", err)
				return nil
			}
			store := cfg.Definition.Store
			status := "configured"
			if !registry.IsSupported(store.Type) {
				status = "unsupported"
			}
			_, _ = fmt.Fprintf(out, "\nConfigured store: %s (%s, %s)\n", store.Name, store.Type, status)
			return nil
		},
	}

	return cmd
}

func getStoreDescription(storeType string) string {
	descriptions := map[string]string{
		"azure.keyvault":     "Azure Key Vault secrets",
		"aws.secretsmanager": "AWS Secrets Manager",
		"aws.ssm":            "AWS Systems Manager Parameter Store (SecureString)",
		"gcp.secretmanager":  "Google Cloud Secret Manager",
		"keychain":           "OS keychain (macOS Keychain, Secret Service, Windows Credential Manager)",
		"postgres":           "PostgreSQL table",
		"mysql":              "MySQL / MariaDB table",
		"memory":             "In-process store for demos and tests",
	}
	if desc, ok := descriptions[storeType]; ok {
		return desc
	}
	return "Secret store"
}
