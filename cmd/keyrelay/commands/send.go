package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	dserrors "github.com/systmms/keyrelay/internal/errors"
)

func NewSendCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <name>",
		Short: "Push a stored item to the device",
		Long: `Send a stored item to the configured device through a direct method
call and print the device's answer.

The IoT Hub connection string and device name are read from the secret
store; set them with 'keyrelay config set'.`,
		Args: cobra.ExactArgs(1),
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

			result, err := rt.dispatcher(rt.channel()).Send(ctx, item.ID)
			if err != nil {
				return dserrors.SimplifyError(err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	return cmd
}
