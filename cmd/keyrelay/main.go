package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/cmd/keyrelay/commands"
	"github.com/systmms/keyrelay/internal/config"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "keyrelay",
		Short: "Keep site logins in a secret store and push them to a device",
		Long: `keyrelay stores named site logins in a cloud or local secret store and
sends them to an IoT device over Azure IoT Hub direct methods.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = config.ResolvePath(configFile)
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default $KEYRELAY_CONFIG or keyrelay.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewListCommand(cfg),
		commands.NewGetCommand(cfg),
		commands.NewAddCommand(cfg),
		commands.NewEditCommand(cfg),
		commands.NewRemoveCommand(cfg),
		commands.NewExistsCommand(cfg),
		commands.NewSendCommand(cfg),
		commands.NewConfigCommand(cfg),
		commands.NewServeCommand(cfg),
		commands.NewStoresCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
