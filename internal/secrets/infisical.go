package secrets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/stacklok/gitops-agent/internal/httpclient"
)

// DefaultInfisicalURL is Infisical Cloud
const DefaultInfisicalURL = "https://app.infisical.com"

// InfisicalProvider lists raw secrets using a universal-auth machine identity
type InfisicalProvider struct {
	baseURL string
	client  *httpclient.DefaultClient
	retry   retryOptions
}

// NewInfisicalProvider creates a provider that logs in with clientID and
// clientSecret. The access token is cached and renewed when it expires.
func NewInfisicalProvider(baseURL, clientID, clientSecret string) *InfisicalProvider {
	if baseURL == "" {
		baseURL = DefaultInfisicalURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	source := oauth2.ReuseTokenSource(nil, &infisicalTokenSource{
		loginURL:     baseURL + "/api/v1/auth/universal-auth/login",
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       httpclient.NewDefaultClient(0),
	})

	return &InfisicalProvider{
		baseURL: baseURL,
		client:  httpclient.NewDefaultClient(0, httpclient.WithHTTPClient(oauth2.NewClient(context.Background(), source))),
		retry:   defaultRetryOptions(),
	}
}

// Name implements Provider
func (*InfisicalProvider) Name() string { return "infisical" }

// DisplayName implements Provider
func (*InfisicalProvider) DisplayName() string { return "Infisical" }

// ListSecrets lists the raw secret values at scope.Path in scope.Environment
// of project scope.Project
func (p *InfisicalProvider) ListSecrets(ctx context.Context, scope Scope) ([]Secret, error) {
	query := url.Values{}
	query.Set("workspaceId", scope.Project)
	query.Set("environment", scope.Environment)
	query.Set("secretPath", scope.Path)
	endpoint := p.baseURL + "/api/v3/secrets/raw?" + query.Encode()

	body, err := retry(ctx, p.retry, p.Name(), func() ([]byte, error) {
		data, err := p.client.Get(ctx, endpoint)
		switch httpclient.StatusCode(err) {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: Infisical rejected the access token", ErrAuthentication)
		case http.StatusForbidden:
			return nil, fmt.Errorf("%w: identity cannot read %s", ErrForbidden, scope)
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON in Infisical response")
	}

	secrets := []Secret{}
	gjson.GetBytes(body, "secrets").ForEach(func(_, s gjson.Result) bool {
		secrets = append(secrets, Secret{
			Name:  s.Get("secretKey").String(),
			Value: s.Get("secretValue").String(),
		})
		return true
	})
	return secrets, nil
}

// infisicalTokenSource performs a universal-auth login for each token
type infisicalTokenSource struct {
	loginURL     string
	clientID     string
	clientSecret string
	client       *httpclient.DefaultClient
}

// Token implements oauth2.TokenSource
func (s *infisicalTokenSource) Token() (*oauth2.Token, error) {
	body, err := s.client.PostJSON(context.Background(), s.loginURL, map[string]string{
		"clientId":     s.clientID,
		"clientSecret": s.clientSecret,
	})
	if err != nil {
		if code := httpclient.StatusCode(err); code == http.StatusUnauthorized || code == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: universal-auth login rejected", ErrAuthentication)
		}
		return nil, fmt.Errorf("universal-auth login failed: %w", err)
	}

	result := gjson.ParseBytes(body)
	accessToken := result.Get("accessToken").String()
	if accessToken == "" {
		return nil, fmt.Errorf("%w: login response has no access token", ErrAuthentication)
	}

	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	if expiresIn := result.Get("expiresIn").Int(); expiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return token, nil
}
