package auth

import "context"

// HeaderAdapter exposes a Provider as the narrow getHeaders()/refresh()
// surface internal/transport needs, decoupling the transport layer from
// this package's richer Credential/Error types.
type HeaderAdapter struct {
	provider    Provider
	refreshable bool
}

// NewHeaderAdapter wraps provider. refreshable should be false for providers
// with no meaningful refresh step (BearerProvider), matching spec.md §4.4's
// "if the provider advertises refresh" gate.
func NewHeaderAdapter(provider Provider, refreshable bool) *HeaderAdapter {
	return &HeaderAdapter{provider: provider, refreshable: refreshable}
}

func (h *HeaderAdapter) GetHeaders(ctx context.Context) (map[string]string, error) {
	cred, err := h.provider.AcquireToken(ctx)
	if err != nil {
		return nil, err
	}
	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return map[string]string{"Authorization": tokenType + " " + cred.AccessToken}, nil
}

func (h *HeaderAdapter) Refresh(ctx context.Context) (bool, error) {
	if !h.refreshable {
		return false, nil
	}
	_, err := h.provider.AcquireToken(ctx)
	if err != nil {
		return true, err
	}
	return true, nil
}
