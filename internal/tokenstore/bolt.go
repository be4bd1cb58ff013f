package tokenstore

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var tokenBucket = []byte("tokens")

// GenerateServerKey derives a stable, filesystem/bucket-safe key for a server from
// its name and URL, grounded on internal/oauth/persistent_token_store.go's
// GenerateServerKey helper.
func GenerateServerKey(serverName, serverURL string) string {
	sum := sha256.Sum256([]byte(serverName + "|" + serverURL))
	return fmt.Sprintf("%s_%x", serverName, sum[:8])
}

// sharedBoltHandle reference-counts one *bbolt.DB per path, since every
// server configured with an oauth2 auth kind opens the same fallback
// database under a different key, and bbolt flocks the file exclusively per
// open file description: a second unpooled Open on the same path would
// block until the first handle's 5s Timeout expired.
type sharedBoltHandle struct {
	db    *bbolt.DB
	count int
}

var (
	sharedBoltMu      sync.Mutex
	sharedBoltHandles = make(map[string]*sharedBoltHandle)
)

func acquireSharedBoltDB(path string) (*bbolt.DB, error) {
	sharedBoltMu.Lock()
	defer sharedBoltMu.Unlock()

	if h, ok := sharedBoltHandles[path]; ok {
		h.count++
		return h.db, nil
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	sharedBoltHandles[path] = &sharedBoltHandle{db: db, count: 1}
	return db, nil
}

func releaseSharedBoltDB(path string) error {
	sharedBoltMu.Lock()
	defer sharedBoltMu.Unlock()

	h, ok := sharedBoltHandles[path]
	if !ok {
		return nil
	}
	h.count--
	if h.count > 0 {
		return nil
	}
	delete(sharedBoltHandles, path)
	return h.db.Close()
}

// BoltStorage is a persistent Storage backend for deployments that want tokens to
// survive a restart without relying on an OS keychain being present (e.g.
// headless Linux containers with no Secret Service). Offered as a third
// backend alongside memory and keychain, used by Select as the
// keychain-unavailable fallback.
type BoltStorage struct {
	mu      sync.Mutex
	db      *bbolt.DB
	path    string
	key     []byte
	refresh time.Duration
	timer   *time.Timer
	logger  *zap.Logger
}

// OpenBoltStorage opens (creating if needed) a bbolt database at path and returns
// a Storage scoped to serverKey. Multiple OpenBoltStorage calls for the same
// path share one underlying *bbolt.DB handle; Close releases this caller's
// reference and only closes the file once every reference has.
func OpenBoltStorage(path, serverKey string, refreshBuffer time.Duration, logger *zap.Logger) (*BoltStorage, error) {
	db, err := acquireSharedBoltDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokenBucket)
		return err
	}); err != nil {
		_ = releaseSharedBoltDB(path)
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	if refreshBuffer <= 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoltStorage{
		db:      db,
		path:    path,
		key:     []byte(serverKey),
		refresh: refreshBuffer,
		logger:  logger.Named("tokenstore.bolt"),
	}, nil
}

func (b *BoltStorage) Close() error {
	return releaseSharedBoltDB(b.path)
}

func (b *BoltStorage) Store(token TokenData) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()

	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokenBucket).Put(b.key, raw)
	})
}

func (b *BoltStorage) Retrieve() (TokenData, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retrieveLocked()
}

// retrieveLocked is Retrieve's body, callable by methods that already hold
// b.mu (e.g. ScheduleRefresh) without re-entering the non-reentrant mutex.
func (b *BoltStorage) retrieveLocked() (TokenData, bool) {
	var token TokenData
	found := false
	_ = b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(tokenBucket).Get(b.key)
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &token); err != nil {
			b.logger.Warn("discarding unreadable bolt entry", zap.Error(err))
			return nil
		}
		found = true
		return nil
	})
	return token, found
}

func (b *BoltStorage) IsExpired() bool {
	token, ok := b.Retrieve()
	if !ok || !token.Valid() {
		return true
	}
	now := time.Now()
	return now.After(token.ExpiresAt) || now.Add(b.refresh).After(token.ExpiresAt)
}

func (b *BoltStorage) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokenBucket).Delete(b.key)
	})
}

func (b *BoltStorage) ScheduleRefresh(cb func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()

	token, ok := b.retrieveLocked()
	if !ok || !token.Valid() {
		return
	}
	delay := time.Until(token.ExpiresAt) - b.refresh
	if delay <= 0 {
		return
	}
	b.timer = time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("recovered panic in token refresh callback", zap.Any("panic", r))
			}
			b.mu.Lock()
			b.timer = nil
			b.mu.Unlock()
		}()
		cb()
	})
}

func (b *BoltStorage) cancelTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
