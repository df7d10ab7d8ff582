package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	dserrors "github.com/systmms/keyrelay/internal/errors"
)

type listEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func NewListCommand(cfg *config.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored items",
		Long: `List the items held in the secret store, sorted by name.

Ids are assigned per session and may differ between invocations.
Device configuration keys are not listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			records, err := rt.engine.List(context.Background())
			if err != nil {
				return dserrors.SimplifyError(err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				entries := make([]listEntry, 0, len(records))
				for _, r := range records {
					entries = append(entries, listEntry{ID: r.ID, Name: r.Name})
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			}

			if len(records) == 0 {
				_, _ = fmt.Fprintln(out, "No items stored")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "ID\tNAME\n")
			_, _ = fmt.Fprintf(w, "--\t----\n")
			for _, r := range records {
				_, _ = fmt.Fprintf(w, "%d\t%s\n", r.ID, r.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}
