package issuejoinjira

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/dghubble/oauth1"

	"github.com/crfeliz/issue-join/cfg"
)

// newJIRAHTTPClient returns an HTTP client signing every request with the
// pre-provisioned OAuth1 token of jc.
func newJIRAHTTPClient(ctx context.Context, jc cfg.JiraConfig) (*http.Client, error) {
	if jc.OAuth == nil {
		return nil, errors.New("no JIRA OAuth credentials configured")
	}

	key, err := loadPrivateKey(jc.OAuth.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(jc.Endpoint.String(), "/")
	config := oauth1.Config{
		ConsumerKey: jc.OAuth.ConsumerKey,
		CallbackURL: "oob",
		Endpoint: oauth1.Endpoint{
			RequestTokenURL: base + "/plugins/servlet/oauth/request-token",
			AuthorizeURL:    base + "/plugins/servlet/oauth/authorize",
			AccessTokenURL:  base + "/plugins/servlet/oauth/access-token",
		},
		Signer: &oauth1.RSASigner{PrivateKey: key},
	}

	return config.Client(ctx, oauth1.NewToken(jc.OAuth.Token, jc.OAuth.TokenSecret)), nil
}

// loadPrivateKey reads an RSA key in PKCS#1 or PKCS#8 PEM form.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading JIRA private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("JIRA private key %s is not PEM encoded", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing JIRA private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("JIRA private key %s is %T, not RSA", path, parsed)
	}
	return key, nil
}
