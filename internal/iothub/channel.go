// Package iothub invokes direct methods on Azure IoT Hub devices through the
// hub's service REST API.
package iothub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/pkg/devicechannel"
)

const (
	moduleName    = "keyrelay/iothub"
	moduleVersion = "v1.0.0"

	// APIVersion is the IoT Hub service API version used for direct methods.
	APIVersion = "2021-04-12"

	// Service limits for responseTimeoutInSeconds.
	minResponseTimeout = 5 * time.Second
	maxResponseTimeout = 300 * time.Second

	defaultTokenTTL = time.Hour
)

// Option configures a Channel.
type Option func(*Channel)

// WithTransport replaces the HTTP transport, for tests.
func WithTransport(t policy.Transporter) Option {
	return func(c *Channel) {
		c.transport = t
	}
}

// WithEndpoint overrides the base URL derived from the host name, for
// example to point at an httptest server.
func WithEndpoint(endpoint string) Option {
	return func(c *Channel) {
		c.endpoint = endpoint
	}
}

// WithTokenTTL sets the lifetime of generated SAS tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Channel) {
		if ttl > 0 {
			c.tokenTTL = ttl
		}
	}
}

// WithClock replaces time.Now when signing tokens.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// Channel is a devicechannel.Channel backed by IoT Hub.
type Channel struct {
	transport policy.Transporter
	endpoint  string
	tokenTTL  time.Duration
	now       func() time.Time
	logger    *logging.Logger
}

// New creates a Channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open parses the service connection string and prepares an authenticated
// pipeline. No network call is made.
func (c *Channel) Open(descriptor string) (devicechannel.Handle, error) {
	cs, err := ParseConnectionString(descriptor)
	if err != nil {
		return nil, err
	}

	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = "https://" + cs.HostName
	}

	clientOpts := &policy.ClientOptions{
		// Sends are never retried.
		Retry: policy.RetryOptions{MaxRetries: -1},
	}
	if c.transport != nil {
		clientOpts.Transport = c.transport
	}
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerCall: []policy.Policy{&sasPolicy{cs: cs, ttl: c.tokenTTL, now: c.now}},
	}, clientOpts)

	c.logger.Debug("Opened IoT Hub channel %s", cs)
	return &handle{pipeline: pl, endpoint: endpoint, host: cs.HostName}, nil
}

type handle struct {
	pipeline runtime.Pipeline
	endpoint string
	host     string
}

type methodRequest struct {
	MethodName               string          `json:"methodName"`
	ResponseTimeoutInSeconds int             `json:"responseTimeoutInSeconds,omitempty"`
	Payload                  json.RawMessage `json:"payload"`
}

type methodResponse struct {
	Status  int             `json:"status"`
	Payload json.RawMessage `json:"payload"`
}

// Invoke calls POST /twins/{deviceId}/methods and returns the device's
// payload.
func (h *handle) Invoke(ctx context.Context, inv devicechannel.Invocation) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/twins/%s/methods?api-version=%s", h.endpoint, url.PathEscape(inv.DeviceID), APIVersion)
	req, err := runtime.NewRequest(ctx, http.MethodPost, u)
	if err != nil {
		return nil, &devicechannel.Error{Message: "build request", Err: err}
	}

	payload := inv.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if err := runtime.MarshalAsJSON(req, methodRequest{
		MethodName:               inv.Method,
		ResponseTimeoutInSeconds: responseTimeoutSeconds(inv.Timeout),
		Payload:                  payload,
	}); err != nil {
		return nil, &devicechannel.Error{Message: "encode request", Err: err}
	}

	resp, err := h.pipeline.Do(req)
	if err != nil {
		return nil, &devicechannel.Error{Message: fmt.Sprintf("invoke %s on %s", inv.Method, inv.DeviceID), Err: err}
	}
	body, err := runtime.Payload(resp)
	if err != nil {
		return nil, &devicechannel.Error{Status: resp.StatusCode, Message: "read response", Err: err}
	}

	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, decodeError(resp.StatusCode, body)
	}

	var mr methodResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, &devicechannel.Error{Status: resp.StatusCode, Message: "decode method response", Err: err}
	}
	return mr.Payload, nil
}

func (h *handle) Close() error {
	return nil
}

func responseTimeoutSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	if d < minResponseTimeout {
		d = minResponseTimeout
	}
	if d > maxResponseTimeout {
		d = maxResponseTimeout
	}
	return int(d / time.Second)
}

// decodeError extracts the hub's numeric error code from an error body.
// Older API versions carry the structured error as a JSON string in
// "Message"; newer ones put errorCode at the top level.
func decodeError(status int, body []byte) error {
	e := &devicechannel.Error{Status: status, Message: http.StatusText(status)}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		if len(body) > 0 {
			e.Message = string(body)
		}
		return e
	}

	if wrapped, ok := fields["Message"]; ok {
		var s string
		if err := json.Unmarshal(wrapped, &s); err == nil {
			nested := map[string]json.RawMessage{}
			if err := json.Unmarshal([]byte(s), &nested); err == nil {
				fields = nested
			} else if s != "" {
				e.Message = s
			}
		}
	}

	var code int
	if raw, ok := fields["errorCode"]; ok && json.Unmarshal(raw, &code) == nil {
		e.Code = devicechannel.Code(code)
	}
	var msg string
	if raw, ok := fields["message"]; ok && json.Unmarshal(raw, &msg) == nil && msg != "" {
		e.Message = msg
	}
	return e
}
