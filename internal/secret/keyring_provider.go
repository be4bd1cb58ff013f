package secret

import (
	"context"
	"fmt"

	"github.com/zalando/go-keyring"
)

// keyringService namespaces every entry this process writes into the OS keychain,
// separate from internal/tokenstore's own KeychainStorage namespace.
const keyringService = "mcpmux-secrets"

// KeyringProvider resolves "${keyring:name}" references against the OS secret
// service (macOS Keychain, Secret Service on Linux, Credential Manager on Windows).
type KeyringProvider struct{}

func NewKeyringProvider() *KeyringProvider { return &KeyringProvider{} }

func (p *KeyringProvider) CanResolve(secretType string) bool { return secretType == "keyring" }

func (p *KeyringProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	val, err := keyring.Get(keyringService, ref.Name)
	if err != nil {
		return "", fmt.Errorf("keyring lookup for %q: %w", ref.Name, err)
	}
	return val, nil
}

// IsAvailable probes the secret service with a disposable round-trip, matching the
// teacher's own availability check in internal/secret/keyring_provider.go.
func (p *KeyringProvider) IsAvailable() bool {
	const probeKey = "_mcpmux_probe"
	if err := keyring.Set(keyringService, probeKey, "probe"); err != nil {
		return false
	}
	_, err := keyring.Get(keyringService, probeKey)
	_ = keyring.Delete(keyringService, probeKey)
	return err == nil
}
