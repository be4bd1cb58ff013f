package secret

import (
	"context"
	"fmt"
	"strings"
)

// Resolver dispatches secret references to the registered Provider for their type.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver pre-registered with the env and keyring providers.
func NewResolver() *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	r.Register("env", NewEnvProvider())
	r.Register("keyring", NewKeyringProvider())
	return r
}

func (r *Resolver) Register(secretType string, p Provider) {
	r.providers[secretType] = p
}

// Resolve looks up a single reference.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	p, ok := r.providers[ref.Type]
	if !ok {
		return "", fmt.Errorf("no secret provider registered for type %q", ref.Type)
	}
	if !p.IsAvailable() {
		return "", fmt.Errorf("secret provider %q is not available on this system", ref.Type)
	}
	return p.Resolve(ctx, ref)
}

// Expand replaces every "${type:name}" reference in s with its resolved value.
// Values that fail to resolve cause Expand to fail outright: a silently-empty
// secret is worse than a startup error.
func (r *Resolver) Expand(ctx context.Context, s string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}
	out := s
	for _, ref := range FindRefs(s) {
		val, err := r.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", ref.Original, err)
		}
		out = strings.ReplaceAll(out, ref.Original, val)
	}
	return out, nil
}
