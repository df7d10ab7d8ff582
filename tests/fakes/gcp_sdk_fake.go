package fakes

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/systmms/keyrelay/internal/providers"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeGCPSecretManagerClient is an in-memory Secret Manager. Only the latest
// enabled version of each secret is kept.
type FakeGCPSecretManagerClient struct {
	// Secrets maps full resource names (projects/X/secrets/Y) to payloads.
	// A nil payload is a secret with no versions yet.
	Secrets map[string][]byte
	// Errors maps "op:resource" to an error. Ops: access, create, add,
	// delete, list (resource is the parent for list).
	Errors map[string]error

	created map[string]*timestamppb.Timestamp
	mu      sync.Mutex
}

// NewFakeGCPSecretManagerClient creates an empty fake.
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Secrets: make(map[string][]byte),
		Errors:  make(map[string]error),
		created: make(map[string]*timestamppb.Timestamp),
	}
}

// AddSecretString seeds projects/<project>/secrets/<name> with value.
func (f *FakeGCPSecretManagerClient) AddSecretString(projectID, name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := "projects/" + projectID + "/secrets/" + name
	f.Secrets[full] = []byte(value)
	f.created[full] = timestamppb.New(time.Now())
}

// AddError configures op on resource to fail.
func (f *FakeGCPSecretManagerClient) AddError(op, resource string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[op+":"+resource] = err
}

// AccessSecretVersion mocks the AccessSecretVersion operation. Only the
// "latest" alias is served.
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	secret := strings.TrimSuffix(req.GetName(), "/versions/latest")
	if err, ok := f.Errors["access:"+secret]; ok {
		return nil, err
	}
	data, ok := f.Secrets[secret]
	if !ok || data == nil {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", secret)
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    secret + "/versions/1",
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	}, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeGCPSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	full := req.GetParent() + "/secrets/" + req.GetSecretId()
	if err, ok := f.Errors["create:"+full]; ok {
		return nil, err
	}
	if _, ok := f.Secrets[full]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists.", full)
	}
	f.Secrets[full] = nil
	f.created[full] = timestamppb.New(time.Now())
	return &secretmanagerpb.Secret{Name: full, CreateTime: f.created[full]}, nil
}

// AddSecretVersion mocks the AddSecretVersion operation
func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	full := req.GetParent()
	if err, ok := f.Errors["add:"+full]; ok {
		return nil, err
	}
	if _, ok := f.Secrets[full]; !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found.", full)
	}
	f.Secrets[full] = append([]byte(nil), req.GetPayload().GetData()...)
	return &secretmanagerpb.SecretVersion{
		Name:       full + "/versions/1",
		State:      secretmanagerpb.SecretVersion_ENABLED,
		CreateTime: timestamppb.New(time.Now()),
	}, nil
}

// DeleteSecret mocks the DeleteSecret operation
func (f *FakeGCPSecretManagerClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	full := req.GetName()
	if err, ok := f.Errors["delete:"+full]; ok {
		return err
	}
	if _, ok := f.Secrets[full]; !ok {
		return status.Errorf(codes.NotFound, "Secret [%s] not found.", full)
	}
	delete(f.Secrets, full)
	delete(f.created, full)
	return nil
}

// ListSecrets mocks the ListSecrets operation
func (f *FakeGCPSecretManagerClient) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) providers.SecretIterator {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent := req.GetParent()
	if err, ok := f.Errors["list:"+parent]; ok {
		return &fakeSecretIterator{err: err}
	}
	var names []string
	for name := range f.Secrets {
		if strings.HasPrefix(name, parent+"/secrets/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	it := &fakeSecretIterator{}
	for _, name := range names {
		it.secrets = append(it.secrets, &secretmanagerpb.Secret{Name: name, CreateTime: f.created[name]})
	}
	return it
}

type fakeSecretIterator struct {
	secrets []*secretmanagerpb.Secret
	err     error
	index   int
}

func (it *fakeSecretIterator) Next() (*secretmanagerpb.Secret, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.index >= len(it.secrets) {
		return nil, iterator.Done
	}
	s := it.secrets[it.index]
	it.index++
	return s, nil
}
