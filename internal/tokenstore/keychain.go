package tokenstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

// keychainService is the fixed OS-keychain service name under which every
// entry this package writes is grouped; the per-server distinction is the
// account name, formatted as "{namespace}:{serverId}" per spec.md §6.
const keychainService = "mcpmux-tokenstore"

// serverIDPattern restricts serverId to a safe character class before it is ever
// used to build a keychain account name, per spec.md §4.1's testable property:
// "construction fails with InvalidArgument; no subprocess is invoked." go-keyring
// calls the native OS secret-service API rather than a subprocess, which satisfies
// this invariant a fortiori.
var serverIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// KeychainStorage persists a TokenData entry in the OS keychain for one server.
type KeychainStorage struct {
	mu       sync.Mutex
	account  string
	refresh  time.Duration
	timer    *time.Timer
	logger   *zap.Logger
}

// NewKeychainStorage validates serverID and returns a keychain-backed Storage.
// Callers should fall back to NewMemoryStorage when this returns an error.
// The keychain account is "{namespace}:{serverID}" per spec.md §6's key format.
func NewKeychainStorage(namespace, serverID string, refreshBuffer time.Duration, logger *zap.Logger) (*KeychainStorage, error) {
	if !serverIDPattern.MatchString(serverID) {
		return nil, fmt.Errorf("%w: serverId %q contains characters outside [A-Za-z0-9._-]", ErrInvalidArgument, serverID)
	}
	if refreshBuffer <= 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeychainStorage{
		account: namespace + ":" + serverID,
		refresh: refreshBuffer,
		logger:  logger.Named("tokenstore.keychain"),
	}, nil
}

func (k *KeychainStorage) Store(token TokenData) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancelTimerLocked()

	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := keyring.Set(keychainService, k.account, string(raw)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *KeychainStorage) Retrieve() (TokenData, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.retrieveLocked()
}

// retrieveLocked is Retrieve's body, callable by methods that already hold
// k.mu (e.g. ScheduleRefresh) without re-entering the non-reentrant mutex.
func (k *KeychainStorage) retrieveLocked() (TokenData, bool) {
	raw, err := keyring.Get(keychainService, k.account)
	if err != nil {
		return TokenData{}, false
	}
	var token TokenData
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		k.logger.Warn("discarding unreadable keychain entry", zap.String("account", k.account), zap.Error(err))
		return TokenData{}, false
	}
	return token, true
}

func (k *KeychainStorage) IsExpired() bool {
	token, ok := k.Retrieve()
	if !ok || !token.Valid() {
		return true
	}
	now := time.Now()
	return now.After(token.ExpiresAt) || now.Add(k.refresh).After(token.ExpiresAt)
}

func (k *KeychainStorage) Clear() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancelTimerLocked()

	if err := keyring.Delete(keychainService, k.account); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *KeychainStorage) ScheduleRefresh(cb func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancelTimerLocked()

	token, ok := k.retrieveLocked()
	if !ok || !token.Valid() {
		return
	}
	delay := time.Until(token.ExpiresAt) - k.refresh
	if delay <= 0 {
		return
	}
	k.timer = time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				k.logger.Error("recovered panic in token refresh callback", zap.Any("panic", r))
			}
			k.mu.Lock()
			k.timer = nil
			k.mu.Unlock()
		}()
		cb()
	})
}

func (k *KeychainStorage) cancelTimerLocked() {
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}
