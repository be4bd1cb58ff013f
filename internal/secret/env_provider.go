package secret

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider resolves secrets from the proxy's own process environment. It is
// distinct from the per-server Environment Resolver (internal/envresolver), which
// builds the *child* process environment for upstream servers.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) CanResolve(secretType string) bool { return secretType == "env" }

func (p *EnvProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	val, ok := os.LookupEnv(ref.Name)
	if !ok {
		return "", fmt.Errorf("environment variable %q is not set", ref.Name)
	}
	return val, nil
}

func (p *EnvProvider) IsAvailable() bool { return true }
