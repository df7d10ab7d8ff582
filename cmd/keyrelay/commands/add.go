package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/pkg/credential"
)

func NewAddCommand(cfg *config.Config) *cobra.Command {
	var (
		name  string
		flags itemFlags
	)

	cmd := &cobra.Command{
		Use:   "add --name <name>",
		Short: "Store a new item",
		Long: `Store a new item in the secret store under its name.

Examples:
  keyrelay add --name github --username octocat --password s3cret --uri https://github.com/login
  keyrelay add --name router --username admin --password-enter`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return dserrors.UserError{
					Message:    "No item name given",
					Suggestion: "Use --name to name the item",
				}
			}

			item := credential.Credential{Name: name}
			flags.apply(cmd, &item)
			if err := credential.Validate(item); err != nil {
				return validationError(err)
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			created, err := rt.engine.Create(context.Background(), item)
			if err != nil {
				return dserrors.SimplifyError(err)
			}

			cfg.Logger.Info("Added %s", created.Name)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\n", created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Item name (letters, digits and '-')")
	flags.register(cmd)

	return cmd
}
