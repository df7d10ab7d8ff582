package fakes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// FakeSecretsManagerClient is an in-memory Secrets Manager.
type FakeSecretsManagerClient struct {
	// Secrets maps secret names to SecretString values.
	Secrets map[string]string
	// Errors maps "op:name" to an error. Ops: get, put, create, delete, list.
	Errors map[string]error

	calls []string
	mu    sync.Mutex
}

// NewFakeSecretsManagerClient creates an empty fake.
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]string),
		Errors:  make(map[string]error),
	}
}

// AddSecretString seeds a secret.
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = value
}

// AddError configures op on name to fail.
func (f *FakeSecretsManagerClient) AddError(op, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[op+":"+name] = err
}

// Calls returns the recorded "op:name" calls.
func (f *FakeSecretsManagerClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeSecretsManagerClient) record(op, name string) error {
	f.calls = append(f.calls, op+":"+name)
	return f.Errors[op+":"+name]
}

func smNotFound(name string) error {
	return &types.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
	}
}

func smARN(name string) *string {
	return aws.String("arn:aws:secretsmanager:us-east-1:123456789012:secret:" + name + "-AbCdEf")
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.SecretId)
	if err := f.record("get", name); err != nil {
		return nil, err
	}
	value, ok := f.Secrets[name]
	if !ok {
		return nil, smNotFound(name)
	}
	return &secretsmanager.GetSecretValueOutput{
		ARN:           smARN(name),
		Name:          aws.String(name),
		SecretString:  aws.String(value),
		VersionStages: []string{"AWSCURRENT"},
	}, nil
}

// PutSecretValue mocks the PutSecretValue operation. It fails with
// ResourceNotFoundException for secrets that were never created.
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.SecretId)
	if err := f.record("put", name); err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[name]; !ok {
		return nil, smNotFound(name)
	}
	f.Secrets[name] = aws.ToString(params.SecretString)
	return &secretsmanager.PutSecretValueOutput{ARN: smARN(name), Name: aws.String(name)}, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Name)
	if err := f.record("create", name); err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[name]; ok {
		return nil, &types.ResourceExistsException{Message: aws.String("secret already exists: " + name)}
	}
	f.Secrets[name] = aws.ToString(params.SecretString)
	return &secretsmanager.CreateSecretOutput{ARN: smARN(name), Name: aws.String(name)}, nil
}

// DeleteSecret mocks the DeleteSecret operation
func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.SecretId)
	if err := f.record("delete", name); err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[name]; !ok {
		return nil, smNotFound(name)
	}
	delete(f.Secrets, name)
	return &secretsmanager.DeleteSecretOutput{ARN: smARN(name), Name: aws.String(name)}, nil
}

// ListSecrets mocks the ListSecrets operation. NextToken is the decimal
// offset of the next page. Name filters are applied as prefixes.
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list", ""); err != nil {
		return nil, err
	}

	prefix := ""
	for _, filter := range params.Filters {
		if filter.Key == types.FilterNameStringTypeName && len(filter.Values) > 0 {
			prefix = filter.Values[0]
		}
	}
	var names []string
	for name := range f.Secrets {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	start, end, next := pageBounds(len(names), params.NextToken, aws.ToInt32(params.MaxResults), 100)
	out := &secretsmanager.ListSecretsOutput{NextToken: next}
	for _, name := range names[start:end] {
		out.SecretList = append(out.SecretList, types.SecretListEntry{ARN: smARN(name), Name: aws.String(name)})
	}
	return out, nil
}

// FakeSSMClient is an in-memory Parameter Store.
type FakeSSMClient struct {
	// Parameters maps full parameter names to values.
	Parameters map[string]string
	// Errors maps "op:name" to an error. Ops: get, put, delete, list.
	Errors map[string]error

	mu sync.Mutex
}

// NewFakeSSMClient creates an empty fake.
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]string),
		Errors:     make(map[string]error),
	}
}

// AddParameter seeds a parameter under its full name.
func (f *FakeSSMClient) AddParameter(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Parameters[name] = value
}

// AddError configures op on name to fail.
func (f *FakeSSMClient) AddError(op, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[op+":"+name] = err
}

func ssmNotFound() error {
	return &ssmtypes.ParameterNotFound{Message: aws.String("parameter not found")}
}

// GetParameter mocks the GetParameter operation
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Name)
	if err, ok := f.Errors["get:"+name]; ok {
		return nil, err
	}
	value, ok := f.Parameters[name]
	if !ok {
		return nil, ssmNotFound()
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  aws.String(name),
			Type:  ssmtypes.ParameterTypeSecureString,
			Value: aws.String(value),
		},
	}, nil
}

// PutParameter mocks the PutParameter operation
func (f *FakeSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Name)
	if err, ok := f.Errors["put:"+name]; ok {
		return nil, err
	}
	if _, exists := f.Parameters[name]; exists && !aws.ToBool(params.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("parameter already exists")}
	}
	f.Parameters[name] = aws.ToString(params.Value)
	return &ssm.PutParameterOutput{Version: 1}, nil
}

// DeleteParameter mocks the DeleteParameter operation
func (f *FakeSSMClient) DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Name)
	if err, ok := f.Errors["delete:"+name]; ok {
		return nil, err
	}
	if _, ok := f.Parameters[name]; !ok {
		return nil, ssmNotFound()
	}
	delete(f.Parameters, name)
	return &ssm.DeleteParameterOutput{}, nil
}

// GetParametersByPath mocks the GetParametersByPath operation. Like the
// service, it rejects MaxResults above 10.
func (f *FakeSSMClient) GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := aws.ToString(params.Path)
	if err, ok := f.Errors["list:"+path]; ok {
		return nil, err
	}
	if aws.ToInt32(params.MaxResults) > 10 {
		return nil, fmt.Errorf("ValidationException: maxResults must be less than or equal to 10")
	}

	prefix := strings.TrimSuffix(path, "/") + "/"
	var names []string
	for name := range f.Parameters {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	start, end, next := pageBounds(len(names), params.NextToken, aws.ToInt32(params.MaxResults), 10)
	out := &ssm.GetParametersByPathOutput{NextToken: next}
	for _, name := range names[start:end] {
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{
			Name:  aws.String(name),
			Type:  ssmtypes.ParameterTypeSecureString,
			Value: aws.String(f.Parameters[name]),
		})
	}
	return out, nil
}

// pageBounds turns an offset token and page size into slice bounds and the
// token of the following page.
func pageBounds(total int, token *string, maxResults, defaultMax int32) (int, int, *string) {
	size := int(maxResults)
	if size <= 0 {
		size = int(defaultMax)
	}
	start := 0
	if token != nil {
		start, _ = strconv.Atoi(*token)
	}
	if start > total {
		start = total
	}
	end := start + size
	if end >= total {
		return start, total, nil
	}
	return start, end, aws.String(strconv.Itoa(end))
}
