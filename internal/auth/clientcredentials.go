package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// ClientCredentialsProvider implements the RFC 6749 §4.4 client-credentials
// grant (spec.md AuthConfig.scheme == "client_credentials"). A single
// acquisition is shared across concurrent callers via coalescer.
type ClientCredentialsProvider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	httpClient   *http.Client
	logger       *zap.Logger

	coalescer
}

func NewClientCredentialsProvider(tokenURL, clientID, clientSecret string, scopes []string, httpClient *http.Client, logger *zap.Logger) *ClientCredentialsProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientCredentialsProvider{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		httpClient:   httpClient,
		logger:       logger.Named("auth.client_credentials"),
	}
}

func (p *ClientCredentialsProvider) Scheme() string { return "client_credentials" }

func (p *ClientCredentialsProvider) AcquireToken(ctx context.Context) (Credential, error) {
	return p.do(func() (Credential, error) {
		return p.exchange(ctx)
	})
}

func (p *ClientCredentialsProvider) exchange(ctx context.Context) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(p.scopes) > 0 {
		form.Set("scope", strings.Join(p.scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, newError(InvalidRequest, "building client_credentials request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.clientID, p.clientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Credential{}, newError(NetworkError, "client_credentials token request failed", err)
	}
	defer resp.Body.Close()

	cred, err := decodeTokenResponse(resp)
	if err != nil {
		p.logger.Warn("client_credentials exchange failed", zap.Error(err))
		return Credential{}, err
	}
	return cred, nil
}
