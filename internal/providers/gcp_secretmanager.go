package providers

import (
	"context"
	"errors"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	dserrors "github.com/systmms/keyrelay/internal/errors"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/pkg/secretstore"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SecretIterator yields secrets until it returns iterator.Done.
type SecretIterator interface {
	Next() (*secretmanagerpb.Secret, error)
}

// GCPSecretManagerAPI is the subset of the Secret Manager client the store
// uses. The real client is wrapped by gcpClientAdapter.
type GCPSecretManagerAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error
	ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) SecretIterator
}

// GCPSecretManagerConfig holds Secret Manager configuration
type GCPSecretManagerConfig struct {
	ProjectID             string
	ServiceAccountKeyPath string
	ImpersonateAccount    string
}

// GCPSecretManagerStore stores each key as a secret in one project.
type GCPSecretManagerStore struct {
	name      string
	projectID string
	client    GCPSecretManagerAPI
	logger    *logging.Logger
}

// GCPStoreOption is a functional option for configuring the store
type GCPStoreOption func(*GCPSecretManagerStore)

// WithGCPClient sets a custom client (for testing)
func WithGCPClient(client GCPSecretManagerAPI) GCPStoreOption {
	return func(s *GCPSecretManagerStore) {
		s.client = client
	}
}

// WithGCPLogger sets the logger.
func WithGCPLogger(l *logging.Logger) GCPStoreOption {
	return func(s *GCPSecretManagerStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewGCPSecretManagerStore creates a Secret Manager backed store.
func NewGCPSecretManagerStore(name string, configMap map[string]interface{}, opts ...GCPStoreOption) (*GCPSecretManagerStore, error) {
	config := GCPSecretManagerConfig{
		ProjectID:             stringValue(configMap, "project_id"),
		ServiceAccountKeyPath: stringValue(configMap, "service_account_key_path"),
		ImpersonateAccount:    stringValue(configMap, "impersonate_service_account"),
	}
	if config.ProjectID == "" {
		return nil, dserrors.ConfigError{
			Field:      "store.project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id to the Google Cloud project that owns the secrets",
		}
	}

	s := &GCPSecretManagerStore{
		name:      name,
		projectID: config.ProjectID,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := createSecretManagerClient(context.Background(), config)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
		}
		s.client = &gcpClientAdapter{client: client}
	}
	return s, nil
}

func createSecretManagerClient(ctx context.Context, config GCPSecretManagerConfig) (*secretmanager.Client, error) {
	var clientOptions []option.ClientOption

	if config.ServiceAccountKeyPath != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(config.ServiceAccountKeyPath))
	}
	if config.ImpersonateAccount != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: config.ImpersonateAccount,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		}, clientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}

	return secretmanager.NewClient(ctx, clientOptions...)
}

// Name returns the store name
func (s *GCPSecretManagerStore) Name() string {
	return s.name
}

func (s *GCPSecretManagerStore) parent() string {
	return "projects/" + s.projectID
}

func (s *GCPSecretManagerStore) secretPath(key string) string {
	return s.parent() + "/secrets/" + key
}

// Get returns the payload of the latest version.
func (s *GCPSecretManagerStore) Get(ctx context.Context, key string) (string, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretPath(key) + "/versions/latest",
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", secretstore.NotFoundError{Store: s.name, Key: key}
		}
		return "", fmt.Errorf("access secret %s: %w", key, err)
	}
	return string(resp.GetPayload().GetData()), nil
}

// Set adds a version, creating the secret with automatic replication the
// first time.
func (s *GCPSecretManagerStore) Set(ctx context.Context, key, value string) error {
	add := &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretPath(key),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}
	_, err := s.client.AddSecretVersion(ctx, add)
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("add secret version %s: %w", key, err)
	}

	s.logger.Debug("Creating Secret Manager secret %s", s.secretPath(key))
	_, err = s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   s.parent(),
		SecretId: key,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
			Labels: map[string]string{"managed-by": "keyrelay"},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create secret %s: %w", key, err)
	}
	if _, err := s.client.AddSecretVersion(ctx, add); err != nil {
		return fmt.Errorf("add secret version %s: %w", key, err)
	}
	return nil
}

// Delete removes the secret and all of its versions.
func (s *GCPSecretManagerStore) Delete(ctx context.Context, key string) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: s.secretPath(key)})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete secret %s: %w", key, err)
	}
	return nil
}

// ListKeys pages through the project's secrets.
func (s *GCPSecretManagerStore) ListKeys(ctx context.Context, pageSize int) secretstore.KeyPager {
	if pageSize <= 0 {
		pageSize = secretstore.DefaultPageSize
	}
	return &gcpPager{
		it: s.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
			Parent:   s.parent(),
			PageSize: int32(pageSize),
		}),
		pageSize: pageSize,
	}
}

// Validate fetches the first secret of the project.
func (s *GCPSecretManagerStore) Validate(ctx context.Context) error {
	it := s.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{Parent: s.parent(), PageSize: 1})
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return dserrors.StoreError("gcp.secretmanager", "validate", err)
	}
	return nil
}

type gcpPager struct {
	it       SecretIterator
	pageSize int
	done     bool
}

func (p *gcpPager) More() bool {
	return !p.done
}

func (p *gcpPager) NextPage(ctx context.Context) (secretstore.Page, error) {
	var page secretstore.Page
	for len(page.Keys) < p.pageSize {
		if err := ctx.Err(); err != nil {
			return secretstore.Page{}, err
		}
		secret, err := p.it.Next()
		if errors.Is(err, iterator.Done) {
			p.done = true
			break
		}
		if err != nil {
			p.done = true
			return secretstore.Page{}, fmt.Errorf("list secrets: %w", err)
		}
		page.Keys = append(page.Keys, secretstore.KeyDescriptor{ID: secret.GetName()})
	}
	return page, nil
}

// gcpClientAdapter narrows *secretmanager.Client to GCPSecretManagerAPI.
type gcpClientAdapter struct {
	client *secretmanager.Client
}

func (a *gcpClientAdapter) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return a.client.AccessSecretVersion(ctx, req)
}

func (a *gcpClientAdapter) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	return a.client.CreateSecret(ctx, req)
}

func (a *gcpClientAdapter) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return a.client.AddSecretVersion(ctx, req)
}

func (a *gcpClientAdapter) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	return a.client.DeleteSecret(ctx, req)
}

func (a *gcpClientAdapter) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) SecretIterator {
	return a.client.ListSecrets(ctx, req)
}

var _ secretstore.Store = (*GCPSecretManagerStore)(nil)
