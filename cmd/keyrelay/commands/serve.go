package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/internal/config"
	"github.com/systmms/keyrelay/internal/metrics"
	"github.com/systmms/keyrelay/internal/server"
)

const (
	demoConnectionString = "HostName=demo.azure-devices.net;SharedAccessKeyName=service;SharedAccessKey=ZGVtby1rZXk="
	demoDeviceName       = "sphere-demo"
)

func NewServeCommand(cfg *config.Config) *cobra.Command {
	var (
		addr string
		demo bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the item API, the device send endpoint, /health and Prometheus
metrics.

With --demo the items live in memory and sends go to a simulated device,
so no cloud account is needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if demo {
				if err := useDemoDefinition(cfg); err != nil {
					return err
				}
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.def.Server.Addr
			}

			metrics.Init()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg.Logger.Info("Serving %s store %q (device channel %s)", rt.def.Store.Type, rt.store.Name(), rt.def.Device.Channel)
			return newServer(rt).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.addr)")
	cmd.Flags().BoolVar(&demo, "demo", false, "Use an in-memory store and a simulated device")

	return cmd
}

func newServer(rt *runtime) *server.Server {
	return server.New(rt.engine, rt.dispatcher(rt.channel()), server.Options{
		MetricsPath: rt.def.Server.MetricsPath,
		Logger:      rt.cfg.Logger,
	})
}

// useDemoDefinition replaces the store with a seeded memory store and the
// device channel with the simulator. Key, device and server settings of an
// existing configuration file are kept.
func useDemoDefinition(cfg *config.Config) error {
	if err := cfg.Load(); err != nil {
		cfg.Logger.Debug("Demo mode without configuration file: %v", err)
		if cfg.Definition, err = config.Parse([]byte("store:\n  type: memory\n")); err != nil {
			return err
		}
	}
	base := cfg.Definition
	keys := base.ConfigKeys.Keys()

	doc := fmt.Sprintf("store:\n  type: memory\n  name: demo\n  values:\n    %q: %q\n    %q: %q\n",
		keys.ConnectionStringKey(), demoConnectionString,
		keys.DeviceIDKey(), demoDeviceName,
	)
	def, err := config.Parse([]byte(doc))
	if err != nil {
		return err
	}
	def.ConfigKeys = base.ConfigKeys
	def.Device = base.Device
	def.Device.Channel = "simulator"
	def.Server = base.Server
	cfg.Definition = def
	return nil
}
