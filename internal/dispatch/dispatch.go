// Package dispatch sends a stored credential to a device over a device
// channel and turns the outcome into a typed error.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/keyrelay/internal/deviceconfig"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/internal/metrics"
	"github.com/systmms/keyrelay/pkg/credential"
	"github.com/systmms/keyrelay/pkg/devicechannel"
)

// DefaultMethod is the direct method the device firmware implements.
const DefaultMethod = "SetSiteLoginData"

// DefaultTimeout is the device response timeout.
const DefaultTimeout = 30 * time.Second

// State is a step of a single Send.
type State int

const (
	StateIdle State = iota
	StateRecordLoaded
	StateConfigLoaded
	StateChannelOpen
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecordLoaded:
		return "record_loaded"
	case StateConfigLoaded:
		return "config_loaded"
	case StateChannelOpen:
		return "channel_open"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CredentialReader loads a full credential by id.
type CredentialReader interface {
	Read(ctx context.Context, id int) (credential.Credential, error)
}

// ConfigReader loads the device configuration.
type ConfigReader interface {
	Read(ctx context.Context) (deviceconfig.Record, error)
}

// Options configures a Service.
type Options struct {
	// Method is the direct method name. Defaults to DefaultMethod.
	Method string
	// Timeout bounds the device call. Defaults to DefaultTimeout.
	Timeout time.Duration
	Logger  *logging.Logger
	// OnTransition, if set, observes every state change of every Send.
	OnTransition func(id int, s State)
}

// Service pushes credentials to the configured device.
type Service struct {
	creds   CredentialReader
	configs ConfigReader
	channel devicechannel.Channel
	opts    Options
}

// New creates a Service.
func New(creds CredentialReader, configs ConfigReader, channel devicechannel.Channel, opts Options) *Service {
	if opts.Method == "" {
		opts.Method = DefaultMethod
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Service{creds: creds, configs: configs, channel: channel, opts: opts}
}

type deviceResponse struct {
	Result *string `json:"result"`
}

// Send loads credential id and invokes the configured method on the device
// with the encoded record as payload. It returns the device's "result"
// text. Errors carry one of the dserrors kinds; a KindNotFound from the
// credential lookup is returned unchanged and no channel is opened. There
// are no retries.
func (s *Service) Send(ctx context.Context, id int) (string, error) {
	start := time.Now()
	result, err := s.send(ctx, id)

	outcome := StateSucceeded.String()
	if err != nil {
		outcome = dserrors.KindOf(err).String()
		s.transition(id, StateFailed)
		s.opts.Logger.Debug("Send of credential %d failed: %v", id, err)
	} else {
		s.transition(id, StateSucceeded)
	}
	metrics.RecordDispatch(outcome, time.Since(start).Seconds())
	return result, err
}

func (s *Service) send(ctx context.Context, id int) (string, error) {
	s.transition(id, StateIdle)

	rec, err := s.creds.Read(ctx, id)
	if err != nil {
		return "", err
	}
	if !rec.IsFull() {
		return "", dserrors.New(dserrors.KindPartialFailure, "send", rec.Name, errors.New("credential payload is missing from the store"))
	}
	s.transition(id, StateRecordLoaded)

	cfg, err := s.configs.Read(ctx)
	if err != nil {
		return "", err
	}
	s.transition(id, StateConfigLoaded)

	handle, err := s.channel.Open(cfg.ConnectionString)
	if err != nil {
		if errors.Is(err, devicechannel.ErrInvalidDescriptor) {
			return "", dserrors.New(dserrors.KindInvalidConnectionDescriptor, "open", "", err)
		}
		return "", dserrors.New(dserrors.KindDeviceUnreachable, "open", "", err)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			s.opts.Logger.Debug("Closing device channel: %v", cerr)
		}
	}()
	s.transition(id, StateChannelOpen)

	payload, err := credential.Encode(rec)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	s.opts.Logger.Debug("Invoking %s on %s for %q", s.opts.Method, cfg.DeviceID, rec.Name)
	resp, err := handle.Invoke(callCtx, devicechannel.Invocation{
		DeviceID: cfg.DeviceID,
		Method:   s.opts.Method,
		Payload:  json.RawMessage(payload),
		Timeout:  s.opts.Timeout,
	})
	if err != nil {
		return "", dserrors.New(classify(err), "invoke", cfg.DeviceID, err)
	}

	var parsed deviceResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return "", dserrors.New(dserrors.KindResponseParseFailure, "parse", cfg.DeviceID, err)
	}
	if parsed.Result == nil {
		return "", dserrors.New(dserrors.KindResponseParseFailure, "parse", cfg.DeviceID, errors.New(`response has no string "result" field`))
	}
	return *parsed.Result, nil
}

func classify(err error) dserrors.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return dserrors.KindDeviceTimeout
	}
	switch devicechannel.CodeOf(err) {
	case devicechannel.CodeDeviceNotRegistered:
		return dserrors.KindDeviceNotRegistered
	case devicechannel.CodeDeviceTimeout, devicechannel.CodeGatewayTimeout:
		return dserrors.KindDeviceTimeout
	default:
		return dserrors.KindDeviceUnreachable
	}
}

func (s *Service) transition(id int, st State) {
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(id, st)
	}
}
