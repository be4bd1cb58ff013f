package tokenstore

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStorage is the process-local fallback storage required on every platform
// (spec.md §4.1). Tokens are lost on process exit.
type MemoryStorage struct {
	mu           sync.Mutex
	token        TokenData
	has          bool
	refreshBuf   time.Duration
	timer        *time.Timer
	logger       *zap.Logger
}

// NewMemoryStorage creates an in-process token store. refreshBuffer defaults to
// DefaultRefreshBuffer when zero.
func NewMemoryStorage(refreshBuffer time.Duration, logger *zap.Logger) *MemoryStorage {
	if refreshBuffer <= 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStorage{refreshBuf: refreshBuffer, logger: logger.Named("tokenstore.memory")}
}

func (m *MemoryStorage) Store(token TokenData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.token = token
	m.has = true
	return nil
}

func (m *MemoryStorage) Retrieve() (TokenData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.has
}

func (m *MemoryStorage) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isExpiredLocked()
}

func (m *MemoryStorage) isExpiredLocked() bool {
	if !m.has || !m.token.Valid() {
		return true
	}
	return time.Now().Add(m.refreshBuf).After(m.token.ExpiresAt) || time.Now().After(m.token.ExpiresAt)
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.token = TokenData{}
	m.has = false
	return nil
}

// ScheduleRefresh arms a timer firing refreshBuffer before expiry. No timer is
// armed if the token is already expired, matching spec.md's boundary rule.
func (m *MemoryStorage) ScheduleRefresh(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()

	if !m.has || !m.token.Valid() {
		return
	}
	delay := time.Until(m.token.ExpiresAt) - m.refreshBuf
	if delay <= 0 {
		return
	}
	m.timer = time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("recovered panic in token refresh callback", zap.Any("panic", r))
			}
			m.mu.Lock()
			m.timer = nil
			m.mu.Unlock()
		}()
		cb()
	})
}

func (m *MemoryStorage) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
