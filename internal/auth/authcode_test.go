package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/tokenstore"
)

func newTestAuthCodeProvider(t *testing.T, tokenURL string) (*AuthCodeProvider, *oauthcoord.Coordinator) {
	t.Helper()
	coord := oauthcoord.New(nil)
	p := NewAuthCodeProvider(AuthCodeConfig{
		ServerName:       "srv1",
		AuthorizationURL: "https://auth.example.com/authorize",
		TokenURL:         tokenURL,
		ClientID:         "client-id",
		RedirectURI:      "https://proxy.local/callback",
		Scopes:           []string{"read"},
	}, coord, nil, nil)
	return p, coord
}

func TestAuthCodeProviderStartBuildsURL(t *testing.T) {
	p, _ := newTestAuthCodeProvider(t, "https://auth.example.com/token")

	res, err := p.Start()
	require.NoError(t, err)

	parsed, err := url.Parse(res.AuthorizationURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Len(t, q.Get("code_challenge"), 43)
	assert.GreaterOrEqual(t, len(res.State), 16)
}

func TestAuthCodeProviderCompleteExchangesCode(t *testing.T) {
	var gotVerifier string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		gotVerifier = r.Form.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	p, _ := newTestAuthCodeProvider(t, srv.URL)
	res, err := p.Start()
	require.NoError(t, err)

	cred, err := p.Complete(context.Background(), res.State, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.AccessToken)
	assert.NotEmpty(t, gotVerifier)
}

func TestAuthCodeProviderCompleteWrongStateRejected(t *testing.T) {
	p, _ := newTestAuthCodeProvider(t, "https://auth.example.com/token")
	_, err := p.Start()
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "wrong-state", "code")
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, InvalidState, authErr.Kind)
}

func TestAuthCodeProviderReplayRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	p, _ := newTestAuthCodeProvider(t, srv.URL)
	res, err := p.Start()
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), res.State, "code")
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), res.State, "code")
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, InvalidState, authErr.Kind)
}

func TestAuthCodeProviderAcquireTokenRequiresCompletionFirst(t *testing.T) {
	p, _ := newTestAuthCodeProvider(t, "https://auth.example.com/token")

	_, err := p.AcquireToken(context.Background())
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, InvalidRequest, authErr.Kind)
}

func TestAuthCodeProviderAcquireTokenServesCompletedCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	p, _ := newTestAuthCodeProvider(t, srv.URL)
	res, err := p.Start()
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), res.State, "the-code")
	require.NoError(t, err)

	cred, err := p.AcquireToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.AccessToken)
}

func TestAuthCodeProviderRestoresCredentialFromStorage(t *testing.T) {
	storage := tokenstore.NewMemoryStorage(time.Minute, nil)
	require.NoError(t, storage.Store(tokenstore.TokenData{
		AccessToken: "stored-tok",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	coord := oauthcoord.New(nil)
	p := NewAuthCodeProvider(AuthCodeConfig{
		ServerName:       "srv1",
		AuthorizationURL: "https://auth.example.com/authorize",
		TokenURL:         "https://auth.example.com/token",
		ClientID:         "client-id",
		RedirectURI:      "https://proxy.local/callback",
		Storage:          storage,
	}, coord, nil, nil)

	cred, err := p.AcquireToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-tok", cred.AccessToken)
}
