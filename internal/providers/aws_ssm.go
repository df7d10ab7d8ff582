package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/systmms/keyrelay/internal/logging"
	"github.com/systmms/keyrelay/pkg/secretstore"
)

// ssmMaxResults is the service limit for GetParametersByPath.
const ssmMaxResults = 10

// SSMClientAPI defines the interface for SSM operations
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// AWSSSMStore stores each key as a SecureString parameter under a path.
type AWSSSMStore struct {
	name     string
	client   SSMClientAPI
	region   string
	path     string
	kmsKeyID string
	logger   *logging.Logger
}

// SSMOption is a functional option for configuring the store
type SSMOption func(*AWSSSMStore)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(s *AWSSSMStore) {
		s.client = client
	}
}

// WithSSMLogger sets the logger.
func WithSSMLogger(l *logging.Logger) SSMOption {
	return func(s *AWSSSMStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAWSSSMStore creates a Parameter Store backed store. Keys live under
// path, which defaults to /keyrelay.
func NewAWSSSMStore(name string, storeConfig map[string]interface{}, opts ...SSMOption) (*AWSSSMStore, error) {
	region := stringValue(storeConfig, "region")
	if region == "" {
		region = "us-east-1"
	}
	path := stringValue(storeConfig, "path")
	if path == "" {
		path = "/keyrelay"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	s := &AWSSSMStore{
		name:     name,
		region:   region,
		path:     strings.TrimSuffix(path, "/"),
		kmsKeyID: stringValue(storeConfig, "kms_key_id"),
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
		var clientOpts []func(*ssm.Options)
		if endpoint := stringValue(storeConfig, "endpoint"); endpoint != "" {
			clientOpts = append(clientOpts, func(o *ssm.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = ssm.NewFromConfig(cfg, clientOpts...)
	}
	return s, nil
}

// Name returns the store name
func (s *AWSSSMStore) Name() string {
	return s.name
}

func (s *AWSSSMStore) parameterName(key string) string {
	return s.path + "/" + key
}

// Get returns the decrypted parameter value.
func (s *AWSSSMStore) Get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.parameterName(key)),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		if isParameterNotFound(err) {
			return "", secretstore.NotFoundError{Store: s.name, Key: key}
		}
		return "", fmt.Errorf("get parameter %s: %w", key, err)
	}
	if out.Parameter == nil {
		return "", nil
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Set writes a SecureString parameter, overwriting any previous value.
func (s *AWSSSMStore) Set(ctx context.Context, key, value string) error {
	input := &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName(key)),
		Value:     aws.String(value),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	}
	if s.kmsKeyID != "" {
		input.KeyId = aws.String(s.kmsKeyID)
	}
	if _, err := s.client.PutParameter(ctx, input); err != nil {
		return fmt.Errorf("put parameter %s: %w", key, err)
	}
	return nil
}

// Delete removes the parameter.
func (s *AWSSSMStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{
		Name: aws.String(s.parameterName(key)),
	})
	if err != nil && !isParameterNotFound(err) {
		return fmt.Errorf("delete parameter %s: %w", key, err)
	}
	return nil
}

// ListKeys pages through the parameters directly under path. Page size is
// clamped to the service maximum of 10.
func (s *AWSSSMStore) ListKeys(ctx context.Context, pageSize int) secretstore.KeyPager {
	if pageSize <= 0 || pageSize > ssmMaxResults {
		pageSize = ssmMaxResults
	}
	input := &ssm.GetParametersByPathInput{
		Path:           aws.String(s.path),
		Recursive:      aws.Bool(false),
		WithDecryption: aws.Bool(false),
		MaxResults:     aws.Int32(int32(pageSize)),
	}
	return &ssmPager{pager: ssm.NewGetParametersByPathPaginator(s.client, input)}
}

// Validate reads one page under path.
func (s *AWSSSMStore) Validate(ctx context.Context) error {
	_, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:       aws.String(s.path),
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("aws ssm (%s): %w", s.region, err)
	}
	return nil
}

type ssmPager struct {
	pager *ssm.GetParametersByPathPaginator
}

func (p *ssmPager) More() bool {
	return p.pager.HasMorePages()
}

func (p *ssmPager) NextPage(ctx context.Context) (secretstore.Page, error) {
	out, err := p.pager.NextPage(ctx)
	if err != nil {
		return secretstore.Page{}, fmt.Errorf("list parameters: %w", err)
	}
	page := secretstore.Page{Keys: make([]secretstore.KeyDescriptor, 0, len(out.Parameters))}
	for _, param := range out.Parameters {
		page.Keys = append(page.Keys, secretstore.KeyDescriptor{ID: aws.ToString(param.Name)})
	}
	return page, nil
}

func isParameterNotFound(err error) bool {
	var nf *types.ParameterNotFound
	return errors.As(err, &nf)
}

var _ secretstore.Store = (*AWSSSMStore)(nil)
