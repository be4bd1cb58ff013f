package transport

import "context"

// AuthProvider is the narrow view network transports need of
// internal/auth.Provider: headers to attach, and an optional one-shot
// refresh on 401. Kept as a small local interface so this package does not
// import internal/auth directly.
type AuthProvider interface {
	GetHeaders(ctx context.Context) (map[string]string, error)
	// Refresh reports false if this provider has no refresh capability
	// (e.g. a static bearer token), in which case callers must not retry.
	Refresh(ctx context.Context) (bool, error)
}
