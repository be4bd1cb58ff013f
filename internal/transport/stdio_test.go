package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStdioTransportRejectsEmptyCommand(t *testing.T) {
	tr := NewStdio("", nil, nil, "srv", zap.NewNop())
	err := tr.Start(context.Background())
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ConnectionFailed, terr.Kind)
}

func TestStdioTransportRoundTrip(t *testing.T) {
	tr := NewStdio("cat", nil, nil, "srv", zap.NewNop())

	received := make(chan Message, 1)
	tr.SetOnMessage(func(msg Message) { received <- msg })

	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), Message{Method: "ping"}, &SendOpts{ID: "1"}))

	select {
	case msg := <-received:
		assert.Equal(t, "ping", msg.Method)
		assert.Equal(t, "2.0", msg.Jsonrpc)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestStdioTransportSendAfterCloseFails(t *testing.T) {
	tr := NewStdio("cat", nil, nil, "srv", zap.NewNop())
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Close())

	err := tr.Send(context.Background(), Message{Method: "ping"}, nil)
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, TransportClosed, terr.Kind)
}

func TestStdioTransportSpawnErrorMapsToConnectionFailed(t *testing.T) {
	tr := NewStdio("/no/such/binary/anywhere", nil, nil, "srv", zap.NewNop())
	err := tr.Start(context.Background())
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ConnectionFailed, terr.Kind)
}

func TestStdioTransportCloseEmitsClose(t *testing.T) {
	tr := NewStdio("cat", nil, nil, "srv", zap.NewNop())

	closed := make(chan struct{})
	tr.SetOnClose(func() { close(closed) })

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Close())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("onclose was never invoked")
	}
}

func TestStdioTransportExitWithoutCloseEmitsError(t *testing.T) {
	tr := NewStdio("false", nil, nil, "srv", zap.NewNop())

	errCh := make(chan error, 1)
	tr.SetOnError(func(err error) { errCh <- err })
	closed := make(chan struct{})
	tr.SetOnClose(func() { close(closed) })

	require.NoError(t, tr.Start(context.Background()))

	select {
	case err := <-errCh:
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ConnectionReset, terr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error after unexpected exit")
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("onclose was never invoked after exit")
	}
}
