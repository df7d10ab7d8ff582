// Package devicesim is an in-process device that answers direct methods the
// way the keyrelay firmware does. It lets `keyrelay serve --demo` and tests
// exercise the full send path without an IoT Hub.
package devicesim

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/systmms/keyrelay/internal/iothub"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/pkg/credential"
	"github.com/systmms/keyrelay/pkg/devicechannel"
)

// Methods implemented by the simulated device.
const (
	MethodSetSiteLoginData     = "SetSiteLoginData"
	MethodSetTelemetryInterval = "SetTelemetryInterval"
)

// Received is a credential delivered to a simulated device.
type Received struct {
	DeviceID   string
	Credential credential.Credential
	At         time.Time
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithDevices registers device ids. Invocations for other ids fail with
// CodeDeviceNotRegistered. Without registered devices every id is accepted.
func WithDevices(ids ...string) Option {
	return func(s *Simulator) {
		for _, id := range ids {
			s.devices[id] = true
		}
	}
}

// WithLatency delays every answer by d. A context deadline shorter than d
// yields CodeDeviceTimeout.
func WithLatency(d time.Duration) Option {
	return func(s *Simulator) {
		s.latency = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// Simulator is a devicechannel.Channel.
type Simulator struct {
	devices           map[string]bool
	latency           time.Duration
	logger            *logging.Logger
	received          []Received
	telemetryInterval int

	mu sync.Mutex
}

// New creates a Simulator.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		devices:           make(map[string]bool),
		logger:            logging.Discard(),
		telemetryInterval: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open validates descriptor like the IoT Hub channel does.
func (s *Simulator) Open(descriptor string) (devicechannel.Handle, error) {
	if _, err := iothub.ParseConnectionString(descriptor); err != nil {
		return nil, err
	}
	return &handle{sim: s}, nil
}

// Received returns the credentials delivered so far.
func (s *Simulator) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// TelemetryInterval returns the interval last set through
// SetTelemetryInterval, in seconds.
func (s *Simulator) TelemetryInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetryInterval
}

type handle struct {
	sim *Simulator
}

func (h *handle) Close() error {
	return nil
}

func (h *handle) Invoke(ctx context.Context, inv devicechannel.Invocation) (json.RawMessage, error) {
	s := h.sim

	s.mu.Lock()
	registered := len(s.devices) == 0 || s.devices[inv.DeviceID]
	s.mu.Unlock()
	if !registered {
		return nil, &devicechannel.Error{
			Code:    devicechannel.CodeDeviceNotRegistered,
			Status:  404,
			Message: fmt.Sprintf("Device %s not registered", inv.DeviceID),
		}
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, &devicechannel.Error{
				Code:    devicechannel.CodeDeviceTimeout,
				Status:  504,
				Message: "Timed out waiting for the response from device.",
				Err:     ctx.Err(),
			}
		}
	}

	switch inv.Method {
	case MethodSetSiteLoginData:
		return s.setSiteLoginData(inv)
	case MethodSetTelemetryInterval:
		return s.setTelemetryInterval(inv)
	default:
		return nil, &devicechannel.Error{
			Status:  501,
			Message: fmt.Sprintf("method %s is not implemented on %s", inv.Method, inv.DeviceID),
		}
	}
}

func (s *Simulator) setSiteLoginData(inv devicechannel.Invocation) (json.RawMessage, error) {
	c, err := credential.Decode(string(inv.Payload))
	if err != nil {
		return json.RawMessage(`{"result":"Invalid parameter"}`), nil
	}

	s.mu.Lock()
	s.received = append(s.received, Received{DeviceID: inv.DeviceID, Credential: c, At: time.Now()})
	s.mu.Unlock()

	s.logger.Info("%s received %q (user %q, password %s)", inv.DeviceID, c.Name, c.Username, logging.Secret(c.Password))
	return json.RawMessage(`{"result":"Item loaded."}`), nil
}

func (s *Simulator) setTelemetryInterval(inv devicechannel.Invocation) (json.RawMessage, error) {
	var raw json.RawMessage = inv.Payload
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		var str string
		if json.Unmarshal(raw, &str) != nil {
			return json.RawMessage(`{"result":"Invalid parameter"}`), nil
		}
		if n, err = strconv.Atoi(str); err != nil {
			return json.RawMessage(`{"result":"Invalid parameter"}`), nil
		}
	}

	s.mu.Lock()
	s.telemetryInterval = n
	s.mu.Unlock()

	s.logger.Info("%s telemetry interval set to %d seconds", inv.DeviceID, n)
	return json.RawMessage(fmt.Sprintf(`{"result":"Executed direct method: %s"}`, inv.Method)), nil
}
