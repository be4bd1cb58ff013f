package tokenstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var errNoDataDir = errors.New("tokenstore: no data directory configured for bolt fallback")

// Backend names the storage kind Select chose, for logging/observability.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendKeychain Backend = "keychain"
	BackendBolt     Backend = "bolt"
)

// boltFileName is the bbolt database file Select opens under dataDir when it
// falls back from an unavailable OS keychain.
const boltFileName = "tokens.db"

// Select implements spec.md §6's token-storage selection precedence:
// explicit override > test sentinel > CI > auto (keychain falling back to
// bolt falling back to memory). namespace is the env-var prefix used for the
// explicit override (e.g. "MCPMUX_TOKEN_STORAGE") and the keychain account
// namespace. dataDir is where the bbolt fallback database lives; an empty
// dataDir skips straight to memory, since there is nowhere durable to put it.
func Select(namespace, serverID string, refreshBuffer time.Duration, dataDir string, logger *zap.Logger) (Storage, Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := os.Getenv(namespace + "_TOKEN_STORAGE"); override != "" {
		switch {
		case strings.EqualFold(override, "memory"):
			return NewMemoryStorage(refreshBuffer, logger), BackendMemory, nil
		case strings.EqualFold(override, "bolt"):
			if bs, err := openBoltFallback(serverID, refreshBuffer, dataDir, logger); err == nil {
				return bs, BackendBolt, nil
			}
			return NewMemoryStorage(refreshBuffer, logger), BackendMemory, nil
		}
	}

	if isTestSentinel() || isCI() {
		return NewMemoryStorage(refreshBuffer, logger), BackendMemory, nil
	}

	ks, err := NewKeychainStorage(namespace, serverID, refreshBuffer, logger)
	if err != nil {
		return nil, "", err
	}
	if !keychainAvailable(ks) {
		logger.Warn("OS keychain unavailable, falling back to durable bolt token storage", zap.String("server", serverID))
		if bs, err := openBoltFallback(serverID, refreshBuffer, dataDir, logger); err == nil {
			return bs, BackendBolt, nil
		}
		logger.Warn("bolt token storage unavailable, falling back to in-memory token storage", zap.String("server", serverID))
		return NewMemoryStorage(refreshBuffer, logger), BackendMemory, nil
	}
	return ks, BackendKeychain, nil
}

// openBoltFallback opens the shared per-process bbolt database under dataDir,
// scoped to serverID via GenerateServerKey. Returns an error (never panics)
// so callers can fall back further to memory.
func openBoltFallback(serverID string, refreshBuffer time.Duration, dataDir string, logger *zap.Logger) (*BoltStorage, error) {
	if dataDir == "" {
		return nil, errNoDataDir
	}
	path := filepath.Join(dataDir, boltFileName)
	return OpenBoltStorage(path, GenerateServerKey(serverID, ""), refreshBuffer, logger)
}

func isTestSentinel() bool {
	return strings.EqualFold(os.Getenv("NODE_ENV"), "test")
}

func isCI() bool {
	v := os.Getenv("CI")
	return v != "" && !strings.EqualFold(v, "false") && v != "0"
}

// keychainAvailable reports whether the OS keychain works for ks. A token
// already stored under ks's account proves it and is left untouched;
// otherwise a disposable probe token is stored and cleared again. Any failure
// (no Secret Service on a headless Linux box, locked keychain, etc.) sends
// Select to its bolt, then memory, fallback rather than failing startup.
func keychainAvailable(ks *KeychainStorage) bool {
	if _, ok := ks.Retrieve(); ok {
		return true
	}
	probe := TokenData{AccessToken: "probe", TokenType: "Bearer", ExpiresAt: time.Now().Add(time.Minute)}
	if err := ks.Store(probe); err != nil {
		return false
	}
	_ = ks.Clear()
	return true
}
