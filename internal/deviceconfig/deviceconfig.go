// Package deviceconfig reads and writes the singleton device configuration:
// the IoT Hub service connection string and the target device id. Both live
// in the secret store under fixed keys next to the credentials.
package deviceconfig

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/systmms/keyrelay/internal/cache"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/internal/secure"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

// Record is the device configuration.
type Record struct {
	ConnectionString string
	DeviceID         string
}

// Keys names the store keys holding the record. Prefix is prepended to both.
type Keys struct {
	Prefix           string
	ConnectionString string
	DeviceID         string
}

// ConnectionStringKey returns the full store key of the connection string.
func (k Keys) ConnectionStringKey() string {
	return k.Prefix + k.ConnectionString
}

// DeviceIDKey returns the full store key of the device id.
func (k Keys) DeviceIDKey() string {
	return k.Prefix + k.DeviceID
}

type sealedRecord struct {
	conn     *secure.Sealed
	deviceID string
}

// Service caches the record after the first read.
type Service struct {
	store           secretstore.Store
	keys            Keys
	defaultDeviceID string
	logger          *logging.Logger
	cache           *cache.Slot[sealedRecord]

	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultDeviceID sets the device id used when the store has none.
func WithDefaultDeviceID(id string) Option {
	return func(s *Service) {
		s.defaultDeviceID = id
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service.
func New(store secretstore.Store, keys Keys, opts ...Option) *Service {
	s := &Service{
		store:  store,
		keys:   keys,
		logger: logging.Discard(),
		cache:  cache.NewSlot[sealedRecord](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys returns the store keys used by the service.
func (s *Service) Keys() Keys {
	return s.keys
}

// Read returns the record, loading it from the store on first use. Missing
// keys read as empty, except the device id which falls back to the default.
func (s *Service) Read(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, err := s.load(ctx)
	if err != nil {
		return Record{}, err
	}
	return reveal(cached)
}

// Write stores the fields of r that are non-empty and differ from the
// current record. Fields written successfully update the cache even if
// another field fails.
func (s *Service) Write(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, err := s.load(ctx)
	if err != nil {
		return err
	}

	var errs []error
	if r.ConnectionString != "" && !cached.conn.Equal(r.ConnectionString) {
		if err := s.store.Set(ctx, s.keys.ConnectionStringKey(), r.ConnectionString); err != nil {
			errs = append(errs, err)
		} else {
			cached.conn.Destroy()
			cached.conn = secure.Seal(r.ConnectionString)
			s.logger.Debug("Updated %s", s.keys.ConnectionStringKey())
		}
	}
	if r.DeviceID != "" && r.DeviceID != cached.deviceID {
		if err := s.store.Set(ctx, s.keys.DeviceIDKey(), r.DeviceID); err != nil {
			errs = append(errs, err)
		} else {
			cached.deviceID = r.DeviceID
			s.logger.Debug("Updated %s to %q", s.keys.DeviceIDKey(), r.DeviceID)
		}
	}
	s.cache.Set(cached)

	if len(errs) > 0 {
		return dserrors.New(dserrors.KindStoreWriteFailed, "write config", s.keys.Prefix, errors.Join(errs...))
	}
	return nil
}

// Invalidate drops the cached record.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache.Get(); ok {
		cached.conn.Destroy()
	}
	s.cache.Clear()
}

func (s *Service) load(ctx context.Context) (sealedRecord, error) {
	if cached, ok := s.cache.Get(); ok {
		return cached, nil
	}

	conn, err := s.get(ctx, s.keys.ConnectionStringKey())
	if err != nil {
		return sealedRecord{}, err
	}
	deviceID, err := s.get(ctx, s.keys.DeviceIDKey())
	if err != nil {
		return sealedRecord{}, err
	}
	if deviceID == "" {
		deviceID = s.defaultDeviceID
	}
	if conn == "" {
		s.logger.Warn("No IoT Hub connection string stored under %s", s.keys.ConnectionStringKey())
	}

	rec := sealedRecord{conn: secure.Seal(conn), deviceID: deviceID}
	s.cache.Set(rec)
	return rec, nil
}

func (s *Service) get(ctx context.Context, key string) (string, error) {
	v, err := s.store.Get(ctx, key)
	if err != nil {
		if secretstore.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s from %s: %w", key, s.store.Name(), err)
	}
	return v, nil
}

func reveal(r sealedRecord) (Record, error) {
	conn, err := r.conn.Reveal()
	if err != nil {
		return Record{}, fmt.Errorf("unseal connection string: %w", err)
	}
	return Record{ConnectionString: conn, DeviceID: r.deviceID}, nil
}
