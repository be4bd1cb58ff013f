package secret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	values    map[string]string
	available bool
}

func (f *fakeProvider) CanResolve(t string) bool { return t == "fake" }
func (f *fakeProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	return f.values[ref.Name], nil
}
func (f *fakeProvider) IsAvailable() bool { return f.available }

func TestParseRef(t *testing.T) {
	ref, ok := ParseRef("${env:HOME}")
	require.True(t, ok)
	assert.Equal(t, "env", ref.Type)
	assert.Equal(t, "HOME", ref.Name)

	_, ok = ParseRef("plain-value")
	assert.False(t, ok)
}

func TestResolverExpand(t *testing.T) {
	r := NewResolver()
	r.Register("fake", &fakeProvider{values: map[string]string{"x": "secret-value"}, available: true})

	out, err := r.Expand(context.Background(), "prefix-${fake:x}-suffix")
	require.NoError(t, err)
	assert.Equal(t, "prefix-secret-value-suffix", out)
}

func TestResolverExpandNoRef(t *testing.T) {
	r := NewResolver()
	out, err := r.Expand(context.Background(), "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestResolverUnknownProvider(t *testing.T) {
	r := NewResolver()
	_, err := r.Expand(context.Background(), "${nope:x}")
	assert.Error(t, err)
}

func TestResolverProviderUnavailable(t *testing.T) {
	r := NewResolver()
	r.Register("fake", &fakeProvider{available: false})
	_, err := r.Expand(context.Background(), "${fake:x}")
	assert.Error(t, err)
}
