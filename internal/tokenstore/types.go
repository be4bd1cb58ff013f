// Package tokenstore implements spec.md §4.1 Token Storage: persisting a single
// TokenData per upstream server and scheduling proactive refresh.
package tokenstore

import (
	"errors"
	"time"
)

// DefaultRefreshBuffer is the conservative window before expiry at which a token is
// considered expired for proactive-refresh purposes (spec.md §4.1: "≥ 5 min").
const DefaultRefreshBuffer = 5 * time.Minute

// TokenData is the single credential record a Storage holds for one server.
type TokenData struct {
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	Scope        string
	RefreshToken string
}

// Valid reports whether t satisfies the data-model invariant from spec.md §3:
// non-empty AccessToken/TokenType and a valid absolute ExpiresAt.
func (t TokenData) Valid() bool {
	return t.AccessToken != "" && t.TokenType != "" && !t.ExpiresAt.IsZero()
}

// ErrInvalidArgument is returned by storage constructors on malformed identifiers
// (spec.md §4.1's serverId character-class check).
var ErrInvalidArgument = errors.New("tokenstore: invalid argument")

// Storage persists exactly one TokenData per server.
type Storage interface {
	Store(token TokenData) error
	Retrieve() (TokenData, bool)
	IsExpired() bool
	Clear() error
	// ScheduleRefresh arms a single timer that invokes cb when the token enters its
	// refresh window. Implementations must cancel any prior timer on each call, and
	// on each Store/Clear. A callback panic must never propagate out of the timer
	// goroutine.
	ScheduleRefresh(cb func())
}
