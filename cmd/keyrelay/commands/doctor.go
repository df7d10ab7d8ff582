package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	"github.com/systmms/keyrelay/internal/iothub"
)

// CheckResult is one line of the doctor report.
type CheckResult struct {
	Name       string
	Status     string // healthy, warning, error
	Message    string
	Suggestion string
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check store connectivity and device configuration",
		Long: `Verify that keyrelay is ready to push items to the device.

This command checks:
- Configuration file validity
- Secret store authentication and connectivity
- The IoT Hub connection string stored next to the items
- The target device name`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking keyrelay configuration...")
			if err := cfg.Load(); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Logger.Info("Configuration loaded successfully")

			rt, err := newRuntime(cfg)
			if err != nil {
				cfg.Logger.Error("Secret store error: %v", err)
				return fmt.Errorf("failed to create secret store: %w", err)
			}

			results := runChecks(context.Background(), rt)
			displayCheckResults(cmd, results, verbose)

			healthy := 0
			for _, r := range results {
				if r.Status != "error" {
					healthy++
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nSummary: %d/%d checks passed\n", healthy, len(results))
			if healthy < len(results) {
				return fmt.Errorf("some checks failed")
			}

			cfg.Logger.Info("All systems operational!")
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for failed checks")

	return cmd
}

func runChecks(ctx context.Context, rt *runtime) []CheckResult {
	storeCheck := CheckResult{Name: "store " + rt.store.Name()}
	if err := rt.store.Validate(ctx); err != nil {
		storeCheck.Status = "error"
		storeCheck.Message = err.Error()
		storeCheck.Suggestion = "Check the store settings in keyrelay.yaml and the credentials of this machine"
		// Without a reachable store nothing else can be read.
		return []CheckResult{storeCheck}
	}
	storeCheck.Status = "healthy"
	storeCheck.Message = fmt.Sprintf("%s store is reachable", rt.def.Store.Type)

	results := []CheckResult{storeCheck}
	keys := rt.configs.Keys()

	rec, err := rt.configs.Read(ctx)
	if err != nil {
		return append(results, CheckResult{
			Name:    "device configuration",
			Status:  "error",
			Message: err.Error(),
		})
	}

	connCheck := CheckResult{Name: keys.ConnectionStringKey()}
	switch cs, err := iothub.ParseConnectionString(rec.ConnectionString); {
	case rec.ConnectionString == "":
		connCheck.Status = "error"
		connCheck.Message = "not set"
		connCheck.Suggestion = "Run: keyrelay config set --connection-string <IoT Hub service connection string>"
	case err != nil:
		connCheck.Status = "error"
		connCheck.Message = err.Error()
		connCheck.Suggestion = "Copy the connection string of a shared access policy with service connect permission"
	default:
		connCheck.Status = "healthy"
		connCheck.Message = "hub " + cs.HostName
	}
	results = append(results, connCheck)

	deviceCheck := CheckResult{Name: keys.DeviceIDKey()}
	if rec.DeviceID == "" {
		deviceCheck.Status = "warning"
		deviceCheck.Message = "not set"
		deviceCheck.Suggestion = "Run: keyrelay config set --device-name <device>, or set device.default_name"
	} else {
		deviceCheck.Status = "healthy"
		deviceCheck.Message = "device " + rec.DeviceID
	}
	results = append(results, deviceCheck)

	records, err := rt.engine.List(ctx)
	listCheck := CheckResult{Name: "items"}
	if err != nil {
		listCheck.Status = "error"
		listCheck.Message = err.Error()
	} else {
		listCheck.Status = "healthy"
		listCheck.Message = fmt.Sprintf("%d stored", len(records))
	}
	return append(results, listCheck)
}

// displayCheckResults shows the checks in a formatted table
func displayCheckResults(cmd *cobra.Command, results []CheckResult, verbose bool) {
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")

	for _, result := range results {
		status := result.Status
		switch result.Status {
		case "healthy":
			status = "✓ " + status
		case "warning":
			status = "⚠ " + status
		case "error":
			status = "✗ " + status
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", result.Name, status, result.Message)
	}
	_ = w.Flush()

	if !verbose {
		return
	}
	for _, result := range results {
		if result.Status != "healthy" && result.Suggestion != "" {
			_, _ = fmt.Fprintf(out, "\n%s:\n  • %s\n", result.Name, result.Suggestion)
		}
	}
}
