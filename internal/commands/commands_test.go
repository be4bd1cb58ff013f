package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultSetRegistersPingAndEcho(t *testing.T) {
	s := NewDefaultSet()
	defs := s.Definitions()
	require.Len(t, defs, 2)

	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
	}
	assert.True(t, names["ping"])
	assert.True(t, names["echo"])
}

func TestDispatchPing(t *testing.T) {
	s := NewDefaultSet()
	result, err := s.Dispatch(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
}

func TestDispatchEcho(t *testing.T) {
	s := NewDefaultSet()
	result, err := s.Dispatch(context.Background(), "echo", []byte(`{"message":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestDispatchEchoRejectsEmptyMessage(t *testing.T) {
	s := NewDefaultSet()
	_, err := s.Dispatch(context.Background(), "echo", []byte(`{}`))
	require.Error(t, err)
}

func TestDispatchUnknownCommand(t *testing.T) {
	s := NewDefaultSet()
	_, err := s.Dispatch(context.Background(), "nope", nil)
	require.Error(t, err)
}
