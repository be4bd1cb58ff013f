// Package envresolver implements spec.md §4.8 Environment Resolver: building
// the child-process environment for one upstream stdio server from an
// allow-listed inherited base, an explicit overlay, and secret-provider
// expansion.
//
// Distinct from internal/secret, which provides the expansion primitives
// this package calls; distinct from internal/tokenstore and internal/auth,
// which resolve *upstream authentication* credentials rather than the
// child process's environment.
//
// Grounded on internal/secureenv/manager.go's allow-list construction, with
// its brew/node/rust/go tool-path auto-discovery dropped: spec.md names only
// inherit → overlay → secret-expand, not host tool discovery.
package envresolver

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/mcpmux/gateway/internal/secret"
)

// defaultAllowedVars is the conservative cross-platform base every resolved
// environment inherits unless overridden, grounded on
// internal/secureenv/manager.go's DefaultEnvConfig.
var defaultAllowedVars = []string{
	"PATH", "HOME", "TMPDIR", "TMP", "TEMP", "SHELL", "TERM", "LANG", "LC_ALL", "USER",
}

func init() {
	if runtime.GOOS == "windows" {
		defaultAllowedVars = append(defaultAllowedVars, "USERPROFILE", "APPDATA", "LOCALAPPDATA", "SystemRoot", "ComSpec")
	}
}

// Resolver builds the outgoing environment for upstream stdio servers.
type Resolver struct {
	allowed  map[string]bool
	secrets  *secret.Resolver
}

// New creates a Resolver. allowedVars overrides defaultAllowedVars when
// non-empty; secrets resolves "${provider:key}" references in overlay
// values.
func New(allowedVars []string, secrets *secret.Resolver) *Resolver {
	if len(allowedVars) == 0 {
		allowedVars = defaultAllowedVars
	}
	if secrets == nil {
		secrets = secret.NewResolver()
	}
	allowed := make(map[string]bool, len(allowedVars))
	for _, v := range allowedVars {
		allowed[v] = true
	}
	return &Resolver{allowed: allowed, secrets: secrets}
}

// Resolve computes the final environment as "KEY=VALUE" pairs: inherited
// allow-listed variables from the current process, overlaid by overlay
// (after secret expansion). Resolution completes synchronously from the
// caller's standpoint before the transport is built, per spec.md §4.8.
func (r *Resolver) Resolve(ctx context.Context, overlay map[string]string) ([]string, error) {
	merged := make(map[string]string)

	for _, kv := range os.Environ() {
		key, val, ok := splitEnv(kv)
		if ok && r.allowed[key] {
			merged[key] = val
		}
	}

	for key, val := range overlay {
		expanded, err := r.secrets.Expand(ctx, val)
		if err != nil {
			return nil, fmt.Errorf("resolve env var %q: %w", key, err)
		}
		merged[key] = expanded
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out, nil
}

func splitEnv(kv string) (key, val string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
