// Package devicechannel defines the request/response channel used to push
// credentials to a remote device.
//
// A Channel turns a connection descriptor into a Handle. A Handle invokes a
// named method on a device and returns the device's JSON response. Failures
// are reported as *Error carrying a numeric Code decoded by the
// implementation, so callers classify them without inspecting message text.
package devicechannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Code is the numeric sub-code reported by the device service for a failed
// invocation.
type Code int

// Known codes. Any other value is a generic failure.
const (
	CodeUnknown             Code = 0
	CodeDeviceNotRegistered Code = 404001
	CodeDeviceTimeout       Code = 404103
	CodeGatewayTimeout      Code = 504101
)

// ErrInvalidDescriptor is returned by Open when the connection descriptor
// cannot be parsed.
var ErrInvalidDescriptor = errors.New("invalid connection descriptor")

// Channel opens handles to a device service.
type Channel interface {
	Open(descriptor string) (Handle, error)
}

// Handle invokes methods on devices reachable through one connection.
type Handle interface {
	Invoke(ctx context.Context, inv Invocation) (json.RawMessage, error)
	Close() error
}

// Invocation describes one direct method call.
type Invocation struct {
	DeviceID string
	Method   string
	Payload  json.RawMessage
	// Timeout is how long the device has to answer. Zero leaves the
	// service default.
	Timeout time.Duration
}

// Error is a failed invocation.
type Error struct {
	Code Code
	// Status is the transport status, when there is one.
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != CodeUnknown {
		return fmt.Sprintf("device channel error %d: %s", e.Code, msg)
	}
	return "device channel error: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the Code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}
