package tokenstore

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// newMockKeychainStorage swaps in go-keyring's in-memory mock provider so
// these tests don't depend on a real OS Secret Service being present, the
// same way the library's own tests exercise Set/Get/Delete.
func newMockKeychainStorage(t *testing.T) *KeychainStorage {
	t.Helper()
	keyring.MockInit()
	ks, err := NewKeychainStorage("mcpmux", "srv1", 0, nil)
	require.NoError(t, err)
	return ks
}

func TestKeychainStorageRoundTrip(t *testing.T) {
	ks := newMockKeychainStorage(t)
	tok := validToken(time.Hour)

	require.NoError(t, ks.Store(tok))
	got, ok := ks.Retrieve()
	require.True(t, ok)
	assert.Equal(t, tok.AccessToken, got.AccessToken)
}

// TestKeychainStorageScheduleRefreshDoesNotDeadlock guards against
// ScheduleRefresh calling the public, lock-acquiring Retrieve from inside its
// own k.mu.Lock()/Unlock() section, which would deadlock forever on the
// second lock attempt. It must return promptly and the refresh must still
// fire.
func TestKeychainStorageScheduleRefreshDoesNotDeadlock(t *testing.T) {
	ks := newMockKeychainStorage(t)
	ks.refresh = 10 * time.Millisecond
	require.NoError(t, ks.Store(validToken(20*time.Millisecond)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		var fired int32
		ks.ScheduleRefresh(func() { atomic.AddInt32(&fired, 1) })
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 5*time.Millisecond)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ScheduleRefresh deadlocked re-acquiring its own mutex via Retrieve")
	}
}

func TestKeychainStorageScheduleRefreshCancelledOnClear(t *testing.T) {
	ks := newMockKeychainStorage(t)
	ks.refresh = 10 * time.Millisecond
	require.NoError(t, ks.Store(validToken(50*time.Millisecond)))

	var fired int32
	ks.ScheduleRefresh(func() { atomic.AddInt32(&fired, 1) })
	require.NoError(t, ks.Clear())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestNewKeychainStorageRejectsInvalidServerID(t *testing.T) {
	invalid := []string{"has space", "slash/es", "semi;colon", "quote\"s", "emoji😀"}
	for _, id := range invalid {
		_, err := NewKeychainStorage("mcpmux", id, 0, nil)
		require.Error(t, err, "serverId %q should be rejected", id)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestNewKeychainStorageAcceptsValidServerID(t *testing.T) {
	valid := []string{"server1", "my.server-name_01", "ABC123"}
	for _, id := range valid {
		_, err := NewKeychainStorage("mcpmux", id, 0, nil)
		assert.NoError(t, err, "serverId %q should be accepted", id)
	}
}
