// Package server exposes the credential engine and device dispatch over
// HTTP, together with /health and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/pkg/credential"
)

// CredentialService is the part of credsync.Engine the API serves.
type CredentialService interface {
	List(ctx context.Context) ([]credential.Credential, error)
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, c credential.Credential) (credential.Credential, error)
	Read(ctx context.Context, id int) (credential.Credential, error)
	Update(ctx context.Context, c credential.Credential) (credential.Credential, error)
	Delete(ctx context.Context, id int) error
}

// Sender pushes a credential to the device.
type Sender interface {
	Send(ctx context.Context, id int) (string, error)
}

// Options configures a Server.
type Options struct {
	// MetricsPath serves promhttp.Handler(). Empty disables it.
	MetricsPath string
	Logger      *logging.Logger
	// ShutdownTimeout bounds graceful shutdown (default 10s).
	ShutdownTimeout time.Duration
}

// Server routes the HTTP API.
type Server struct {
	creds  CredentialService
	sender Sender
	opts   Options
	mux    *http.ServeMux
}

// New creates a Server and registers its routes.
func New(creds CredentialService, sender Sender, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{creds: creds, sender: sender, opts: opts, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/item", s.handleList)
	s.mux.HandleFunc("POST /api/item", s.handleCreate)
	s.mux.HandleFunc("GET /api/item/{id}", s.handleRead)
	s.mux.HandleFunc("PUT /api/item/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/item/{id}", s.handleDelete)
	s.mux.HandleFunc("POST /api/iot/send/{id}", s.handleSend)
	s.mux.HandleFunc("GET /api/validator", s.handleValidator)
	s.mux.HandleFunc("POST /api/validator", s.handleValidator)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if opts.MetricsPath != "" {
		s.mux.Handle("GET "+opts.MetricsPath, promhttp.Handler())
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		s.opts.Logger.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.opts.Logger.Info("Listening on %s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.creds.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	record, err := s.creds.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.decodeCredential(w, r)
	if !ok {
		return
	}
	created, err := s.creds.Create(r.Context(), c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	c, ok := s.decodeCredential(w, r)
	if !ok {
		return
	}
	c.ID = id
	updated, err := s.creds.Update(r.Context(), c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.creds.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	result, err := s.sender.Send(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

// handleValidator answers remote form validation: "true" when the name is
// free, "false" when it is taken.
func (s *Server) handleValidator(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if name == "" {
		name = r.FormValue("Item.Name")
	}
	exists, err := s.creds.Exists(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, !exists)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "id must be an integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) decodeCredential(w http.ResponseWriter, r *http.Request) (credential.Credential, bool) {
	var c credential.Credential
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return credential.Credential{}, false
	}
	if err := credential.Validate(c); err != nil {
		s.writeError(w, err)
		return credential.Credential{}, false
	}
	return c, true
}

type errorBody struct {
	Error    string            `json:"error"`
	Kind     string            `json:"kind,omitempty"`
	Problems map[string]string `json:"problems,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr credential.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), Problems: verr.Problems})
		return
	}

	kind := dserrors.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		s.opts.Logger.Error("%v", err)
	}
	body := errorBody{Error: kind.Message()}
	if kind != dserrors.KindUnknown {
		body.Kind = kind.String()
	}
	writeJSON(w, status, body)
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind dserrors.Kind) int {
	switch kind {
	case dserrors.KindNotFound, dserrors.KindDeviceNotRegistered:
		return http.StatusNotFound
	case dserrors.KindAlreadyExists:
		return http.StatusConflict
	case dserrors.KindReservedName:
		return http.StatusBadRequest
	case dserrors.KindInvalidConnectionDescriptor:
		return http.StatusFailedDependency
	case dserrors.KindDeviceTimeout:
		return http.StatusGatewayTimeout
	case dserrors.KindStoreWriteFailed, dserrors.KindPartialFailure,
		dserrors.KindDeviceUnreachable, dserrors.KindResponseParseFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
