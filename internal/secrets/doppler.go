package secrets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/gitops-agent/internal/httpclient"
)

// DefaultDopplerAPIURL is the public Doppler API
const DefaultDopplerAPIURL = "https://api.doppler.com"

// dopplerMetadataPrefix marks keys Doppler adds to every download
const dopplerMetadataPrefix = "DOPPLER_"

// DopplerProvider downloads the secrets of the config bound to a service token
type DopplerProvider struct {
	apiURL string
	client *httpclient.DefaultClient
	retry  retryOptions
}

// NewDopplerProvider creates a provider for the given service token.
// An empty apiURL uses DefaultDopplerAPIURL.
func NewDopplerProvider(apiURL, token string) *DopplerProvider {
	if apiURL == "" {
		apiURL = DefaultDopplerAPIURL
	}
	return &DopplerProvider{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: httpclient.NewDefaultClient(0, httpclient.WithBearerToken(token)),
		retry:  defaultRetryOptions(),
	}
}

// Name implements Provider
func (*DopplerProvider) Name() string { return "doppler" }

// DisplayName implements Provider
func (*DopplerProvider) DisplayName() string { return "Doppler" }

// ListSecrets downloads the config as JSON. The token already selects the
// project and config, so scope is not sent.
func (p *DopplerProvider) ListSecrets(ctx context.Context, _ Scope) ([]Secret, error) {
	endpoint, err := url.JoinPath(p.apiURL, "v3/configs/config/secrets/download")
	if err != nil {
		return nil, fmt.Errorf("invalid Doppler API URL: %w", err)
	}
	endpoint += "?format=json"

	body, err := retry(ctx, p.retry, p.Name(), func() ([]byte, error) {
		data, err := p.client.Get(ctx, endpoint)
		switch httpclient.StatusCode(err) {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: invalid Doppler token", ErrAuthentication)
		case http.StatusForbidden:
			return nil, fmt.Errorf("%w: Doppler token does not have access to this config", ErrForbidden)
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON in Doppler response")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("unexpected Doppler response: expected an object")
	}

	secrets := []Secret{}
	doc.ForEach(func(key, value gjson.Result) bool {
		if strings.HasPrefix(key.String(), dopplerMetadataPrefix) {
			return true
		}
		secrets = append(secrets, Secret{Name: key.String(), Value: value.String()})
		return true
	})
	return secrets, nil
}
