// Package oauthcoord implements spec.md §4.9's OAuth Flow Coordinator: a
// process-wide registry of in-flight authorization-code flows keyed by the
// opaque CSRF "state" value, since the downstream host calls
// completeOAuthFlow(state, code) without knowing which provider started it.
//
// This is adapted from internal/oauth/coordinator.go's server-name-keyed
// design; the key changes to state because the host-facing callback carries
// only the state value, not a server name.
package oauthcoord

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StaleFlowTimeout bounds how long a started flow waits for its callback
// before CleanupStaleFlows reclaims it.
const StaleFlowTimeout = 10 * time.Minute

var (
	ErrFlowNotFound    = errors.New("oauthcoord: no flow registered for state")
	ErrFlowAlreadyDone = errors.New("oauthcoord: flow already completed or expired")
)

// Flow holds everything needed to resume an authorization-code+PKCE exchange
// once the host delivers the redirected "code" for this State.
type Flow struct {
	State        string
	ServerName   string
	CodeVerifier string
	RedirectURI  string
	StartedAt    time.Time

	done    chan struct{}
	code    string
	err     error
	once    sync.Once
}

// cleanupInterval is how often New's background goroutine calls
// CleanupStaleFlows. A fraction of StaleFlowTimeout keeps the worst-case
// overstay bounded without polling so often it shows up in a profile.
const cleanupInterval = time.Minute

// Coordinator is a singleton-scoped registry of active flows, one per
// process, shared by every upstream server's AuthCodeProvider.
type Coordinator struct {
	mu     sync.Mutex
	flows  map[string]*Flow
	logger *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New starts a Coordinator with its stale-flow reaper already running on a
// ticker; spec.md §4.9 requires the expiry be timer-driven rather than swept
// on query, so abandoned flows whose host callback never arrives are bounded
// in memory regardless of whether anything ever queries the coordinator
// again. Call Close to stop the reaper.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		flows:  make(map[string]*Flow),
		logger: logger.Named("oauthcoord"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.reapLoop()
	return c
}

func (c *Coordinator) reapLoop() {
	defer close(c.done)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.CleanupStaleFlows()
		case <-c.stop:
			return
		}
	}
}

// Close stops the background reaper. Safe to call once; it does not fail
// flows still pending, it only stops reclaiming future stale ones.
func (c *Coordinator) Close() {
	select {
	case <-c.stop:
		return
	default:
		close(c.stop)
	}
	<-c.done
}

// StartFlow registers a new flow under state. state must be unique; a
// collision replaces the previous flow and unblocks any waiter on it with
// ErrFlowAlreadyDone.
func (c *Coordinator) StartFlow(state, serverName, codeVerifier, redirectURI string) *Flow {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.flows[state]; ok {
		prev.finish("", ErrFlowAlreadyDone)
	}

	f := &Flow{
		State:        state,
		ServerName:   serverName,
		CodeVerifier: codeVerifier,
		RedirectURI:  redirectURI,
		StartedAt:    time.Now(),
		done:         make(chan struct{}),
	}
	c.flows[state] = f
	return f
}

// Complete consumes the flow registered for state, returning it so the caller
// can perform the token exchange with its CodeVerifier. The entry is removed
// immediately on match, before the exchange is attempted, so the single-use
// invariant holds regardless of whether the exchange itself later succeeds:
// any subsequent Complete/Fail with the same state returns ErrFlowNotFound.
func (c *Coordinator) Complete(state, code string) (*Flow, error) {
	c.mu.Lock()
	f, ok := c.flows[state]
	if ok {
		delete(c.flows, state)
	}
	c.mu.Unlock()

	if !ok {
		return nil, ErrFlowNotFound
	}
	f.finish(code, nil)
	return f, nil
}

// PendingVerifier reports the code verifier for a still-active flow without
// consuming it. Used by callers that want to validate before Complete.
func (c *Coordinator) PendingVerifier(state string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[state]
	if !ok {
		return "", false
	}
	return f.CodeVerifier, true
}

// ServerNameFor reports which server started the still-active flow for
// state, without consuming it, so a caller holding only (state, code) can
// look up which server's AuthCodeProvider should perform the exchange.
func (c *Coordinator) ServerNameFor(state string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[state]
	if !ok {
		return "", false
	}
	return f.ServerName, true
}

// Fail resolves the flow with an error, e.g. when the host callback carries
// an OAuth "error" parameter instead of a code.
func (c *Coordinator) Fail(state string, err error) error {
	c.mu.Lock()
	f, ok := c.flows[state]
	if ok {
		delete(c.flows, state)
	}
	c.mu.Unlock()

	if !ok {
		return ErrFlowNotFound
	}
	f.finish("", err)
	return nil
}

// Wait blocks until the flow is completed or failed, or until timeout
// fires, returning the authorization code.
func (f *Flow) Wait(timeout <-chan time.Time) (string, error) {
	select {
	case <-f.done:
		return f.code, f.err
	case <-timeout:
		return "", errors.New("oauthcoord: timed out waiting for callback")
	}
}

func (f *Flow) finish(code string, err error) {
	f.once.Do(func() {
		f.code = code
		f.err = err
		close(f.done)
	})
}

// IsActive reports whether a flow is still pending for state.
func (c *Coordinator) IsActive(state string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flows[state]
	return ok
}

// CleanupStaleFlows removes and fails flows older than StaleFlowTimeout,
// unblocking any caller still waiting on them. Intended to run on a ticker.
func (c *Coordinator) CleanupStaleFlows() {
	cutoff := time.Now().Add(-StaleFlowTimeout)

	c.mu.Lock()
	var stale []*Flow
	for state, f := range c.flows {
		if f.StartedAt.Before(cutoff) {
			stale = append(stale, f)
			delete(c.flows, state)
		}
	}
	c.mu.Unlock()

	for _, f := range stale {
		c.logger.Warn("reclaiming stale oauth flow", zap.String("server", f.ServerName), zap.String("state", f.State))
		f.finish("", errors.New("oauthcoord: flow expired before callback arrived"))
	}
}
