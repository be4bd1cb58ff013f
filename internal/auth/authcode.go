package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/tokenstore"
)

// AuthorizationTimeoutDuration is the 10-minute window an authorization-code
// flow has to complete. Nothing in this package reads it: Start returns no
// pending future that could be rejected, and an abandoned flow is discarded
// by oauthcoord's reaper once StaleFlowTimeout (also 10 minutes) has passed.
const AuthorizationTimeoutDuration = 10 * time.Minute

// AuthCodeProvider implements the RFC 6749 §4.1 + PKCE (RFC 7636)
// authorization-code grant, coordinated through a process-wide
// oauthcoord.Coordinator since the host drives the callback out of band.
//
// Grounded on the Bigsy-mcpmu standalone OAuth flow file's Flow.Run shape,
// adapted: this package never opens a browser or runs a local HTTP callback
// server itself (the host owns that surface); it only builds the
// authorization URL and performs the code-for-token exchange once the
// coordinator reports completion.
type AuthCodeProvider struct {
	serverName       string
	authorizationURL string
	tokenURL         string
	clientID         string
	clientSecret     string
	redirectURI      string
	scopes           []string
	audience         string
	extraParams      map[string]string

	httpClient *http.Client
	coord      *oauthcoord.Coordinator
	storage    tokenstore.Storage
	logger     *zap.Logger

	mu   sync.Mutex
	cred *Credential
}

type AuthCodeConfig struct {
	ServerName       string
	AuthorizationURL string
	TokenURL         string
	ClientID         string
	ClientSecret     string
	RedirectURI      string
	Scopes           []string
	Audience         string
	ExtraParams      map[string]string

	// Storage, if non-nil, persists the credential Complete obtains so it
	// survives a transport reconnect without another interactive round-trip.
	Storage tokenstore.Storage
}

func NewAuthCodeProvider(cfg AuthCodeConfig, coord *oauthcoord.Coordinator, httpClient *http.Client, logger *zap.Logger) *AuthCodeProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AuthCodeProvider{
		serverName:       cfg.ServerName,
		authorizationURL: cfg.AuthorizationURL,
		tokenURL:         cfg.TokenURL,
		clientID:         cfg.ClientID,
		clientSecret:     cfg.ClientSecret,
		redirectURI:      cfg.RedirectURI,
		scopes:           cfg.Scopes,
		audience:         cfg.Audience,
		extraParams:      cfg.ExtraParams,
		httpClient:       httpClient,
		coord:            coord,
		storage:          cfg.Storage,
		logger:           logger.Named("auth.authcode"),
	}
	if p.storage != nil {
		if data, ok := p.storage.Retrieve(); ok && data.Valid() {
			p.cred = &Credential{AccessToken: data.AccessToken, TokenType: data.TokenType, ExpiresAt: data.ExpiresAt}
		}
	}
	return p
}

func (p *AuthCodeProvider) Scheme() string { return "authorization_code" }

// StartResult is returned by Start: the URL the host should present to the
// user, and the state it later passes back to Complete (through the proxy
// core's completeOAuthFlow).
type StartResult struct {
	AuthorizationURL string
	State            string
}

// Start begins a new flow: generates verifier/challenge/state, registers it
// with the coordinator, and returns the authorization URL to present. It does
// not block; the flow ends when Complete is called with the returned state,
// or when the coordinator reclaims it as stale.
func (p *AuthCodeProvider) Start() (StartResult, error) {
	pk, err := newPKCE()
	if err != nil {
		return StartResult{}, newError(ParseError, "generating PKCE parameters", err)
	}
	state, err := generateState()
	if err != nil {
		return StartResult{}, newError(ParseError, "generating state", err)
	}

	p.coord.StartFlow(state, p.serverName, pk.Verifier, p.redirectURI)

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {p.clientID},
		"redirect_uri":          {p.redirectURI},
		"state":                 {state},
		"code_challenge":        {pk.Challenge},
		"code_challenge_method": {"S256"},
	}
	if len(p.scopes) > 0 {
		params.Set("scope", strings.Join(p.scopes, " "))
	}
	if p.audience != "" {
		params.Set("audience", p.audience)
	}
	for k, v := range p.extraParams {
		params.Set(k, v)
	}

	return StartResult{
		AuthorizationURL: p.authorizationURL + "?" + params.Encode(),
		State:            state,
	}, nil
}

// AcquireToken returns the credential obtained by the most recent Complete
// call (or restored from storage at construction), if it is still valid. A
// server with no completed flow yet returns an error instructing callers to
// use Start.
func (p *AuthCodeProvider) AcquireToken(_ context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cred != nil && p.cred.ExpiresAt.After(time.Now()) {
		return *p.cred, nil
	}
	return Credential{}, newError(InvalidRequest, "authorization_code provider requires an interactive Start/complete round-trip", nil)
}

// Complete is invoked by the proxy core's completeOAuthFlow dispatch once the
// host delivers the redirected code for state. It performs the token
// exchange, caches the resulting credential for subsequent AcquireToken
// calls, and persists it if a Storage was configured.
func (p *AuthCodeProvider) Complete(ctx context.Context, state, code string) (Credential, error) {
	flow, err := p.coord.Complete(state, code)
	if err != nil {
		return Credential{}, newError(InvalidState, fmt.Sprintf("state %q is unknown or already consumed", state), err)
	}

	cred, err := p.exchange(ctx, code, flow.CodeVerifier)
	if err != nil {
		return Credential{}, err
	}

	p.mu.Lock()
	p.cred = &cred
	p.mu.Unlock()

	if p.storage != nil {
		if err := p.storage.Store(tokenstore.TokenData{AccessToken: cred.AccessToken, TokenType: cred.TokenType, ExpiresAt: cred.ExpiresAt}); err != nil {
			p.logger.Warn("failed to persist authorization_code token", zap.String("server", p.serverName), zap.Error(err))
		}
	}
	return cred, nil
}

func (p *AuthCodeProvider) exchange(ctx context.Context, code, verifier string) (Credential, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.redirectURI},
		"client_id":     {p.clientID},
		"code_verifier": {verifier},
	}
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, newError(InvalidRequest, "building authorization_code token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Credential{}, newError(NetworkError, "authorization_code token request failed", err)
	}
	defer resp.Body.Close()

	cred, err := decodeTokenResponse(resp)
	if err != nil {
		p.logger.Warn("authorization_code exchange failed", zap.String("server", p.serverName), zap.Error(err))
		return Credential{}, err
	}
	return cred, nil
}
