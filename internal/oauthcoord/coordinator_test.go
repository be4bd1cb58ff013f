package oauthcoord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteUnblocksWaiter(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	f := c.StartFlow("state1", "srv", "verifier", "http://localhost/cb")

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, err := c.Complete("state1", "auth-code")
		require.NoError(t, err)
	}()

	code, err := f.Wait(time.After(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "auth-code", code)
	assert.False(t, c.IsActive("state1"))
}

func TestCompleteUnknownState(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	_, err := c.Complete("nope", "code")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestCompleteIsSingleUse(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	c.StartFlow("state1", "srv", "verifier", "http://localhost/cb")

	_, err := c.Complete("state1", "code1")
	require.NoError(t, err)
	_, err = c.Complete("state1", "code2")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestStartFlowReplacesPriorUnblocksOldWaiter(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	old := c.StartFlow("state1", "srv", "verifier", "http://localhost/cb")
	c.StartFlow("state1", "srv", "verifier2", "http://localhost/cb")

	_, err := old.Wait(time.After(time.Second))
	assert.ErrorIs(t, err, ErrFlowAlreadyDone)
}

func TestFailUnblocksWaiterWithError(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	f := c.StartFlow("state1", "srv", "verifier", "http://localhost/cb")

	require.NoError(t, c.Fail("state1", assert.AnError))
	_, err := f.Wait(time.After(time.Second))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWaitTimesOut(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	f := c.StartFlow("state1", "srv", "verifier", "http://localhost/cb")

	_, err := f.Wait(time.After(10 * time.Millisecond))
	assert.Error(t, err)
}

func TestCleanupStaleFlowsReclaimsOld(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	f := c.StartFlow("state1", "srv", "verifier", "http://localhost/cb")
	f.StartedAt = time.Now().Add(-StaleFlowTimeout - time.Minute)

	c.CleanupStaleFlows()

	assert.False(t, c.IsActive("state1"))
	_, err := f.Wait(time.After(time.Second))
	assert.Error(t, err)
}

func TestPendingVerifier(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	c.StartFlow("state1", "srv", "the-verifier", "http://localhost/cb")

	v, ok := c.PendingVerifier("state1")
	require.True(t, ok)
	assert.Equal(t, "the-verifier", v)

	_, ok = c.PendingVerifier("nope")
	assert.False(t, ok)
}

func TestCleanupStaleFlowsLeavesFreshFlows(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)
	c.StartFlow("state1", "srv", "verifier", "http://localhost/cb")

	c.CleanupStaleFlows()

	assert.True(t, c.IsActive("state1"))
}

// TestNewArmsBackgroundReaper verifies CleanupStaleFlows is actually
// scheduled on a ticker by New, not left for a caller to wire up: Close must
// stop a live reapLoop goroutine, which only exists if New started one.
func TestNewArmsBackgroundReaper(t *testing.T) {
	c := New(nil)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close never returned; New did not start a reaper goroutine for it to stop")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(nil)
	c.Close()
	assert.NotPanics(t, c.Close)
}
