// Package secret resolves "${provider:name}" references embedded in server
// configuration (env values, headers, auth client secrets) against a small set of
// pluggable providers.
package secret

import "context"

// Ref is a parsed secret reference, e.g. "${env:GITHUB_TOKEN}" parses to
// {Type: "env", Name: "GITHUB_TOKEN"}.
type Ref struct {
	Type     string
	Name     string
	Original string
}

// Provider resolves secret references of a single type.
type Provider interface {
	CanResolve(secretType string) bool
	Resolve(ctx context.Context, ref Ref) (string, error)
	IsAvailable() bool
}
