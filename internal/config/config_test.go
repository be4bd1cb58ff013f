package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationMarshalRoundTrip(t *testing.T) {
	d := Duration(45 * time.Second)
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"45s"`, string(raw))

	var back Duration
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)
}

func TestDurationUnmarshalRejectsInvalidFormat(t *testing.T) {
	var d Duration
	err := json.Unmarshal([]byte(`"not-a-duration"`), &d)
	require.Error(t, err)
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, Validate(cfg))
	assert.Equal(t, defaultListen, cfg.Listen)
}

func TestConfigJSONRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Servers = []*TargetServer{
		{
			Name:          "search",
			Transport:     TransportConfig{Kind: TransportStdio, Command: "search-mcp"},
			AutoReconnect: true,
			Enabled:       true,
		},
	}

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)

	var back Config
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Len(t, back.Servers, 1)
	assert.Equal(t, "search", back.Servers[0].Name)
	assert.Equal(t, TransportStdio, back.Servers[0].Transport.Kind)
}
