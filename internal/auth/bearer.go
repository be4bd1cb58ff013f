package auth

import (
	"context"
	"time"
)

// BearerProvider wraps a static, operator-supplied bearer token with no
// refresh semantics (spec.md §3 AuthConfig.scheme == "bearer").
type BearerProvider struct {
	token string
}

func NewBearerProvider(token string) *BearerProvider {
	return &BearerProvider{token: token}
}

func (p *BearerProvider) Scheme() string { return "bearer" }

func (p *BearerProvider) AcquireToken(_ context.Context) (Credential, error) {
	if p.token == "" {
		return Credential{}, newError(InvalidRequest, "bearer provider has no token configured", nil)
	}
	return Credential{
		AccessToken: p.token,
		TokenType:   "Bearer",
		// A static bearer token never expires from the proxy's point of view;
		// callers should not schedule a refresh for it.
		ExpiresAt: time.Time{},
	}, nil
}
