package commands

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/pkg/credential"
)

func NewEditCommand(cfg *config.Config) *cobra.Command {
	var (
		rename string
		flags  itemFlags
	)

	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Change a stored item",
		Long: `Change the fields of a stored item. Only the flags given are changed.

--rename moves the item to a new name: the old key is deleted and the item
is written under the new one with a new id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			summary, err := rt.lookup(ctx, args[0])
			if err != nil {
				return dserrors.SimplifyError(err)
			}
			item, err := rt.engine.Read(ctx, summary.ID)
			if err != nil {
				return dserrors.SimplifyError(err)
			}

			flags.apply(cmd, &item)
			if cmd.Flags().Changed("rename") {
				item.Name = rename
			}
			if err := credential.Validate(item); err != nil {
				return validationError(err)
			}

			updated, err := rt.engine.Update(ctx, item)
			if err != nil {
				return dserrors.SimplifyError(err)
			}
			if updated.Name != args[0] {
				cfg.Logger.Info("Renamed %s to %s", args[0], updated.Name)
			} else {
				cfg.Logger.Info("Updated %s", updated.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rename, "rename", "", "New item name")
	flags.register(cmd)

	return cmd
}
