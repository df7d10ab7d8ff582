package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	dserrors "github.com/systmms/keyrelay/internal/errors"
)

func NewExistsCommand(cfg *config.Config) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "exists <name>",
		Short: "Check whether an item name is taken",
		Long: `Print true if an item with the given name is stored, false otherwise.

With --quiet nothing is printed and a missing item exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			found, err := rt.engine.Exists(context.Background(), args[0])
			if err != nil {
				return dserrors.SimplifyError(err)
			}
			if quiet {
				if !found {
					return fmt.Errorf("%s does not exist", args[0])
				}
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%t\n", found)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Report through the exit status only")

	return cmd
}
