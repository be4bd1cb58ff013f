// Package auth implements spec.md §4.2 Authentication: the Provider
// abstraction over bearer, client-credentials, and authorization-code+PKCE
// token acquisition, plus single-flight refresh coalescing.
//
// Grounded on internal/oauth/refresh_manager.go's decoupling-by-interface
// style and the standalone Bigsy-mcpmu PKCE flow for the authorization-code
// mechanics the teacher itself delegates to mark3labs/mcp-go.
package auth

import (
	"context"
	"sync"
	"time"
)

// Credential is what a Provider hands back: a bearer value ready to attach to
// an upstream request, plus its absolute expiry for the caller's own caching.
type Credential struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// Provider acquires and (where applicable) refreshes credentials for one
// upstream server's auth configuration.
type Provider interface {
	// AcquireToken returns a usable credential, performing whatever network
	// exchange is required. Concurrent callers must observe exactly one
	// underlying exchange in flight; see coalescer.
	AcquireToken(ctx context.Context) (Credential, error)
	// Scheme names the spec.md §3 AuthConfig.scheme this provider handles.
	Scheme() string
}

// coalescer ensures at most one in-flight acquisition per Provider instance;
// concurrent callers block on the same call and share its result. Grounded on
// the teacher's OAuthFlowCoordinator shape, hand-rolled rather than reached
// for golang.org/x/sync/singleflight because the teacher already expresses
// this exact shape natively throughout internal/oauth.
type coalescer struct {
	mu      sync.Mutex
	inFlight *call
}

type call struct {
	done chan struct{}
	cred Credential
	err  error
}

// do runs fn if no acquisition is in flight, otherwise waits for the one
// already running and returns its result.
func (c *coalescer) do(fn func() (Credential, error)) (Credential, error) {
	c.mu.Lock()
	if c.inFlight != nil {
		inFlight := c.inFlight
		c.mu.Unlock()
		<-inFlight.done
		return inFlight.cred, inFlight.err
	}

	cl := &call{done: make(chan struct{})}
	c.inFlight = cl
	c.mu.Unlock()

	cred, err := fn()

	c.mu.Lock()
	c.inFlight = nil
	c.mu.Unlock()

	cl.cred, cl.err = cred, err
	close(cl.done)
	return cred, err
}
