package commands

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	dserrors "github.com/systmms/keyrelay/internal/errors"
)

func NewRemoveCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"delete"},
		Short:   "Delete a stored item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			item, err := rt.lookup(ctx, args[0])
			if err != nil {
				return dserrors.SimplifyError(err)
			}
			if err := rt.engine.Delete(ctx, item.ID); err != nil {
				return dserrors.SimplifyError(err)
			}

			cfg.Logger.Info("Deleted %s", item.Name)
			return nil
		},
	}

	return cmd
}
