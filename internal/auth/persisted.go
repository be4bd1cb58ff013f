package auth

import (
	"context"

	"go.uber.org/zap"

	"github.com/mcpmux/gateway/internal/tokenstore"
)

// PersistedProvider wraps a Provider with a tokenstore.Storage so an
// acquired credential survives a transport reconnect instead of forcing a
// fresh exchange every time, per spec.md §3's ownership summary: "Token
// Storage instances are owned one-per-server by the auth provider created
// at connect time ... tokens survive reconnection."
//
// Grounded on Provider's own coalescer: AcquireToken first tries storage,
// falling back to the inner provider only on a cache miss or expiry, then
// persists the result and arms the storage's own proactive-refresh timer.
type PersistedProvider struct {
	inner   Provider
	storage tokenstore.Storage
	logger  *zap.Logger
}

// NewPersistedProvider wraps inner with storage. storage must be non-nil.
func NewPersistedProvider(inner Provider, storage tokenstore.Storage, logger *zap.Logger) *PersistedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &PersistedProvider{inner: inner, storage: storage, logger: logger.Named("auth.persisted")}
	p.storage.ScheduleRefresh(func() {
		if _, err := p.AcquireToken(context.Background()); err != nil {
			p.logger.Warn("proactive token refresh failed", zap.Error(err))
		}
	})
	return p
}

func (p *PersistedProvider) Scheme() string { return p.inner.Scheme() }

// AcquireToken returns the stored credential if it is still valid and not
// expired, otherwise delegates to the inner provider and persists the
// result before returning it.
func (p *PersistedProvider) AcquireToken(ctx context.Context) (Credential, error) {
	if data, ok := p.storage.Retrieve(); ok && data.Valid() && !p.storage.IsExpired() {
		return Credential{AccessToken: data.AccessToken, TokenType: data.TokenType, ExpiresAt: data.ExpiresAt}, nil
	}

	cred, err := p.inner.AcquireToken(ctx)
	if err != nil {
		return Credential{}, err
	}

	if err := p.storage.Store(tokenstore.TokenData{
		AccessToken: cred.AccessToken,
		TokenType:   cred.TokenType,
		ExpiresAt:   cred.ExpiresAt,
	}); err != nil {
		p.logger.Warn("failed to persist acquired token", zap.Error(err))
	} else {
		p.storage.ScheduleRefresh(func() {
			if _, err := p.AcquireToken(context.Background()); err != nil {
				p.logger.Warn("proactive token refresh failed", zap.Error(err))
			}
		})
	}
	return cred, nil
}
