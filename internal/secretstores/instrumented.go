package secretstores

import (
	"context"
	"time"

	"github.com/systmms/keyrelay/internal/metrics"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

// Instrumented bounds every store call with a timeout and records it in
// the store request metrics. A missing key counts as outcome "not_found".
type Instrumented struct {
	inner   secretstore.Store
	timeout time.Duration
}

// NewInstrumented wraps store. A timeout <= 0 disables the deadline.
func NewInstrumented(store secretstore.Store, timeout time.Duration) *Instrumented {
	return &Instrumented{inner: store, timeout: timeout}
}

// Unwrap returns the wrapped store.
func (s *Instrumented) Unwrap() secretstore.Store {
	return s.inner
}

func (s *Instrumented) Name() string {
	return s.inner.Name()
}

func (s *Instrumented) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.call(ctx, "get", func(ctx context.Context) error {
		var err error
		value, err = s.inner.Get(ctx, key)
		return err
	})
	return value, err
}

func (s *Instrumented) Set(ctx context.Context, key, value string) error {
	return s.call(ctx, "set", func(ctx context.Context) error {
		return s.inner.Set(ctx, key, value)
	})
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	return s.call(ctx, "delete", func(ctx context.Context) error {
		return s.inner.Delete(ctx, key)
	})
}

// ListKeys applies the timeout to each page rather than to the listing.
func (s *Instrumented) ListKeys(ctx context.Context, pageSize int) secretstore.KeyPager {
	return &instrumentedPager{store: s, inner: s.inner.ListKeys(ctx, pageSize)}
}

func (s *Instrumented) Validate(ctx context.Context) error {
	return s.call(ctx, "validate", s.inner.Validate)
}

func (s *Instrumented) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	metrics.RecordStoreRequest(s.inner.Name(), op, outcome(err), time.Since(start).Seconds())
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case secretstore.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

type instrumentedPager struct {
	store *Instrumented
	inner secretstore.KeyPager
}

func (p *instrumentedPager) More() bool {
	return p.inner.More()
}

func (p *instrumentedPager) NextPage(ctx context.Context) (secretstore.Page, error) {
	var page secretstore.Page
	err := p.store.call(ctx, "list", func(ctx context.Context) error {
		var err error
		page, err = p.inner.NextPage(ctx)
		return err
	})
	return page, err
}

var _ secretstore.Store = (*Instrumented)(nil)
