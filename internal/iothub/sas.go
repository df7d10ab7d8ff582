package iothub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// SignToken builds a shared access signature for resource (usually the hub
// host name) valid until expiry.
func SignToken(resource, keyName, key string, expiry time.Time) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decode shared access key: %w", err)
	}

	sr := url.QueryEscape(strings.ToLower(resource))
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, decoded)
	mac.Write([]byte(sr + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		sr, url.QueryEscape(sig), se, url.QueryEscape(keyName)), nil
}

// sasPolicy sets the Authorization header, renewing the token shortly
// before it expires.
type sasPolicy struct {
	cs  ConnectionString
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (p *sasPolicy) Do(req *policy.Request) (*http.Response, error) {
	token, err := p.current()
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set("Authorization", token)
	return req.Next()
}

func (p *sasPolicy) current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.token != "" && now.Add(p.ttl/10).Before(p.expires) {
		return p.token, nil
	}
	expires := now.Add(p.ttl)
	token, err := SignToken(p.cs.HostName, p.cs.SharedAccessKeyName, p.cs.SharedAccessKey, expires)
	if err != nil {
		return "", err
	}
	p.token, p.expires = token, expires
	return token, nil
}
