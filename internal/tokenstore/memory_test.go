package tokenstore

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validToken(ttl time.Duration) TokenData {
	return TokenData{
		AccessToken: "at",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(ttl),
	}
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	m := NewMemoryStorage(0, nil)
	tok := validToken(time.Hour)

	require.NoError(t, m.Store(tok))
	got, ok := m.Retrieve()
	require.True(t, ok)
	assert.Equal(t, tok.AccessToken, got.AccessToken)
}

func TestMemoryStorageClear(t *testing.T) {
	m := NewMemoryStorage(0, nil)
	require.NoError(t, m.Store(validToken(time.Hour)))
	require.NoError(t, m.Clear())

	_, ok := m.Retrieve()
	assert.False(t, ok)
	assert.True(t, m.IsExpired())
}

func TestMemoryStorageIsExpiredBoundary(t *testing.T) {
	m := NewMemoryStorage(5*time.Minute, nil)
	require.NoError(t, m.Store(validToken(4*time.Minute)))
	assert.True(t, m.IsExpired(), "token inside the refresh buffer must be reported expired")

	m2 := NewMemoryStorage(5*time.Minute, nil)
	require.NoError(t, m2.Store(validToken(time.Hour)))
	assert.False(t, m2.IsExpired())
}

func TestMemoryStorageNoTokenIsExpired(t *testing.T) {
	m := NewMemoryStorage(0, nil)
	assert.True(t, m.IsExpired())
}

func TestMemoryStorageScheduleRefreshFires(t *testing.T) {
	m := NewMemoryStorage(10*time.Millisecond, nil)
	require.NoError(t, m.Store(validToken(20*time.Millisecond)))

	var fired int32
	m.ScheduleRefresh(func() { atomic.AddInt32(&fired, 1) })

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStorageScheduleRefreshCancelledOnClear(t *testing.T) {
	m := NewMemoryStorage(10*time.Millisecond, nil)
	require.NoError(t, m.Store(validToken(50*time.Millisecond)))

	var fired int32
	m.ScheduleRefresh(func() { atomic.AddInt32(&fired, 1) })
	require.NoError(t, m.Clear())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestMemoryStorageScheduleRefreshPanicRecovered(t *testing.T) {
	m := NewMemoryStorage(10*time.Millisecond, nil)
	require.NoError(t, m.Store(validToken(20*time.Millisecond)))

	done := make(chan struct{})
	m.ScheduleRefresh(func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh callback never ran")
	}
}

func TestTokenDataValid(t *testing.T) {
	assert.True(t, validToken(time.Minute).Valid())
	assert.False(t, TokenData{}.Valid())
	assert.False(t, TokenData{AccessToken: "a", TokenType: "Bearer"}.Valid())
}
