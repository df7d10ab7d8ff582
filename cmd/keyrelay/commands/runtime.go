package commands

import (
	"context"
	"fmt"

	"github.com/systmms/keyrelay/internal/config"
	"github.com/systmms/keyrelay/internal/credsync"
	"github.com/systmms/keyrelay/internal/deviceconfig"
	"github.com/systmms/keyrelay/internal/devicesim"
	"github.com/systmms/keyrelay/internal/dispatch"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/iothub"
	"github.com/systmms/keyrelay/internal/secretstores"
	"github.com/systmms/keyrelay/pkg/credential"
	"github.com/systmms/keyrelay/pkg/devicechannel"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

// openStore creates the configured store. Tests replace it to share one
// store across several command invocations.
var openStore = func(cfg *config.Config) (secretstore.Store, error) {
	return secretstores.NewRegistry(cfg.Logger).CreateSecretStore(cfg.Definition.Store)
}

// runtime is the object graph every store-backed command works on.
type runtime struct {
	def     *config.Definition
	store   secretstore.Store
	engine  *credsync.Engine
	configs *deviceconfig.Service
	cfg     *config.Config
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	if cfg.Definition == nil {
		if err := cfg.Load(); err != nil {
			return nil, err
		}
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	return buildRuntime(cfg, store), nil
}

func buildRuntime(cfg *config.Config, store secretstore.Store) *runtime {
	def := cfg.Definition
	opts := []credsync.Option{
		credsync.WithConfigPrefix(def.ConfigKeys.Prefix),
		credsync.WithLogger(cfg.Logger),
	}
	if def.Store.PageSize > 0 {
		opts = append(opts, credsync.WithPageSize(def.Store.PageSize))
	}
	return &runtime{
		def:    def,
		store:  store,
		engine: credsync.New(store, opts...),
		configs: deviceconfig.New(store, def.ConfigKeys.Keys(),
			deviceconfig.WithDefaultDeviceID(def.Device.DefaultName),
			deviceconfig.WithLogger(cfg.Logger),
		),
		cfg: cfg,
	}
}

// channel returns the device channel selected by device.channel.
func (rt *runtime) channel() devicechannel.Channel {
	if rt.def.Device.Channel == "simulator" {
		return devicesim.New(devicesim.WithLogger(rt.cfg.Logger))
	}
	opts := []iothub.Option{iothub.WithLogger(rt.cfg.Logger)}
	if rt.def.Device.Endpoint != "" {
		opts = append(opts, iothub.WithEndpoint(rt.def.Device.Endpoint))
	}
	return iothub.New(opts...)
}

func (rt *runtime) dispatcher(ch devicechannel.Channel) *dispatch.Service {
	return dispatch.New(rt.engine, rt.configs, ch, dispatch.Options{
		Method:  rt.def.Device.MethodName,
		Timeout: rt.def.Device.MethodTimeout(),
		Logger:  rt.cfg.Logger,
	})
}

// lookup resolves a name to the record of the current session.
func (rt *runtime) lookup(ctx context.Context, name string) (credential.Credential, error) {
	if name == "" {
		return credential.Credential{}, dserrors.UserError{
			Message:    "No item name given",
			Suggestion: "Pass the item name as the first argument",
		}
	}
	return rt.engine.Lookup(ctx, name)
}

// validationError turns a credential.ValidationError into a user error.
func validationError(err error) error {
	verr, ok := err.(credential.ValidationError)
	if !ok {
		return err
	}
	return dserrors.UserError{
		Message:    "Invalid item",
		Details:    verr.Error(),
		Suggestion: fmt.Sprintf("Names use letters, digits and '-' (max %d characters)", credential.MaxNameLength),
		Err:        err,
	}
}

// redactedConnectionString masks the shared access key.
func redactedConnectionString(s string) string {
	if s == "" {
		return "(not set)"
	}
	cs, err := iothub.ParseConnectionString(s)
	if err != nil {
		return "(invalid)"
	}
	return cs.String()
}
