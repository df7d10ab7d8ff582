package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager operations
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSSecretsManagerStore stores each key as a secret named prefix+key.
type AWSSecretsManagerStore struct {
	name     string
	client   SecretsManagerClientAPI
	region   string
	endpoint string // Optional custom endpoint for LocalStack or testing
	prefix   string
	logger   *logging.Logger
}

// SecretsManagerOption is a functional option for configuring the store
type SecretsManagerOption func(*AWSSecretsManagerStore)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(s *AWSSecretsManagerStore) {
		s.client = client
	}
}

// WithSecretsManagerLogger sets the logger.
func WithSecretsManagerLogger(l *logging.Logger) SecretsManagerOption {
	return func(s *AWSSecretsManagerStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAWSSecretsManagerStore creates a Secrets Manager backed store.
func NewAWSSecretsManagerStore(name string, storeConfig map[string]interface{}, opts ...SecretsManagerOption) (*AWSSecretsManagerStore, error) {
	region := stringValue(storeConfig, "region")
	if region == "" {
		region = "us-east-1"
	}

	s := &AWSSecretsManagerStore{
		name:     name,
		region:   region,
		endpoint: stringValue(storeConfig, "endpoint"),
		prefix:   normalizeSecretsManagerPrefix(stringValue(storeConfig, "prefix")),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cfg, err := loadAWSConfig(region, storeConfig)
		if err != nil {
			return nil, err
		}
		var clientOpts []func(*secretsmanager.Options)
		if s.endpoint != "" {
			endpoint := s.endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}
	return s, nil
}

// loadAWSConfig loads the default credential chain, with static keys and a
// named profile as overrides for LocalStack and multi-account setups.
func loadAWSConfig(region string, storeConfig map[string]interface{}) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	if profile := stringValue(storeConfig, "profile"); profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(profile))
	}
	accessKeyID := stringValue(storeConfig, "access_key_id")
	secretAccessKey := stringValue(storeConfig, "secret_access_key")
	if accessKeyID != "" && secretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

func normalizeSecretsManagerPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// Name returns the store name
func (s *AWSSecretsManagerStore) Name() string {
	return s.name
}

func (s *AWSSecretsManagerStore) secretName(key string) string {
	return s.prefix + key
}

// Get returns the SecretString of the current version.
func (s *AWSSecretsManagerStore) Get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretName(key)),
	})
	if err != nil {
		if isSecretsManagerNotFound(err) {
			return "", secretstore.NotFoundError{Store: s.name, Key: key}
		}
		return "", fmt.Errorf("get secret %s: %w", key, err)
	}
	return aws.ToString(out.SecretString), nil
}

// Set puts a new version, creating the secret the first time.
func (s *AWSSecretsManagerStore) Set(ctx context.Context, key, value string) error {
	name := s.secretName(key)
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}
	if !isSecretsManagerNotFound(err) {
		return fmt.Errorf("put secret %s: %w", key, err)
	}

	s.logger.Debug("Creating Secrets Manager secret %s", name)
	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
		Description:  aws.String("Managed by keyrelay"),
	})
	if err != nil {
		return fmt.Errorf("create secret %s: %w", key, err)
	}
	return nil
}

// Delete removes the secret immediately, skipping the recovery window so
// the name can be reused right away.
func (s *AWSSecretsManagerStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(s.secretName(key)),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil && !isSecretsManagerNotFound(err) {
		return fmt.Errorf("delete secret %s: %w", key, err)
	}
	return nil
}

// ListKeys pages through secrets whose name starts with the prefix. The
// service caps MaxResults at 100.
func (s *AWSSecretsManagerStore) ListKeys(ctx context.Context, pageSize int) secretstore.KeyPager {
	if pageSize <= 0 {
		pageSize = secretstore.DefaultPageSize
	}
	if pageSize > 100 {
		pageSize = 100
	}
	input := &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(int32(pageSize))}
	if s.prefix != "" {
		input.Filters = []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{s.prefix},
		}}
	}
	return &secretsManagerPager{
		pager:  secretsmanager.NewListSecretsPaginator(s.client, input),
		prefix: s.prefix,
	}
}

// Validate lists a single secret.
func (s *AWSSecretsManagerStore) Validate(ctx context.Context) error {
	_, err := s.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("aws secrets manager (%s): %w", s.region, err)
	}
	return nil
}

type secretsManagerPager struct {
	pager  *secretsmanager.ListSecretsPaginator
	prefix string
}

func (p *secretsManagerPager) More() bool {
	return p.pager.HasMorePages()
}

func (p *secretsManagerPager) NextPage(ctx context.Context) (secretstore.Page, error) {
	out, err := p.pager.NextPage(ctx)
	if err != nil {
		return secretstore.Page{}, fmt.Errorf("list secrets: %w", err)
	}
	page := secretstore.Page{Keys: make([]secretstore.KeyDescriptor, 0, len(out.SecretList))}
	for _, entry := range out.SecretList {
		name := aws.ToString(entry.Name)
		// The name filter matches on words, so recheck the prefix.
		if !strings.HasPrefix(name, p.prefix) {
			continue
		}
		page.Keys = append(page.Keys, secretstore.KeyDescriptor{ID: name})
	}
	return page, nil
}

func isSecretsManagerNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return errors.As(err, &nf)
}

var _ secretstore.Store = (*AWSSecretsManagerStore)(nil)
