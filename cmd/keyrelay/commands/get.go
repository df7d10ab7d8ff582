package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/pkg/credential"
)

func NewGetCommand(cfg *config.Config) *cobra.Command {
	var (
		asJSON       bool
		showPassword bool
	)

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a stored item",
		Long: `Show the fields of a stored item.

The password is masked unless --show-password is given.`,
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
			if !showPassword && item.Password != "" {
				item.Password = strings.Repeat("*", 8)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(item)
			}
			return printItem(cmd, item)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&showPassword, "show-password", false, "Print the password in clear text")

	return cmd
}

func printItem(cmd *cobra.Command, item credential.Credential) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Id:\t%d\n", item.ID)
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", item.Name)
	_, _ = fmt.Fprintf(w, "Username:\t%s\n", item.Username)
	_, _ = fmt.Fprintf(w, "Password:\t%s\n", item.Password)
	_, _ = fmt.Fprintf(w, "Uri:\t%s\n", item.URI)
	_, _ = fmt.Fprintf(w, "Username enter:\t%t\n", item.UsernameEnter)
	_, _ = fmt.Fprintf(w, "Password enter:\t%t\n", item.PasswordEnter)
	_, _ = fmt.Fprintf(w, "Tab between:\t%t\n", item.UnameTabPass)
	_, _ = fmt.Fprintf(w, "Load and send:\t%t\n", item.LoadAndSend)
	if !item.IsFull() {
		_, _ = fmt.Fprintf(w, "State:\t%s (payload missing from store)\n", item.State)
	}
	return w.Flush()
}
