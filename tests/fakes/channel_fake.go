package fakes

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/systmms/keyrelay/pkg/devicechannel"
)

// FakeChannel is a scripted devicechannel.Channel that records every
// invocation.
type FakeChannel struct {
	// OpenErr is returned by Open.
	OpenErr error
	// Response is returned by successful invocations.
	Response json.RawMessage
	// InvokeErr is returned by every invocation when set.
	InvokeErr error
	// InvokeFunc overrides Response and InvokeErr.
	InvokeFunc func(ctx context.Context, inv devicechannel.Invocation) (json.RawMessage, error)

	opened      []string
	invocations []devicechannel.Invocation
	closed      int
	mu          sync.Mutex
}

// NewFakeChannel returns a channel whose devices answer "Item loaded.".
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{Response: json.RawMessage(`{"result":"Item loaded."}`)}
}

// Open implements devicechannel.Channel.
func (f *FakeChannel) Open(descriptor string) (devicechannel.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, descriptor)
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	return &fakeHandle{ch: f}, nil
}

// Opened returns the descriptors passed to Open.
func (f *FakeChannel) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// Invocations returns every invocation in order.
func (f *FakeChannel) Invocations() []devicechannel.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]devicechannel.Invocation(nil), f.invocations...)
}

// Closed returns how many handles were closed.
func (f *FakeChannel) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeHandle struct {
	ch *FakeChannel
}

func (h *fakeHandle) Invoke(ctx context.Context, inv devicechannel.Invocation) (json.RawMessage, error) {
	h.ch.mu.Lock()
	h.ch.invocations = append(h.ch.invocations, inv)
	fn, resp, err := h.ch.InvokeFunc, h.ch.Response, h.ch.InvokeErr
	h.ch.mu.Unlock()

	if fn != nil {
		return fn(ctx, inv)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *fakeHandle) Close() error {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	h.ch.closed++
	return nil
}
