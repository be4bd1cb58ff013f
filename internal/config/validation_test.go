package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsDuplicateServerNames(t *testing.T) {
	cfg := Default()
	cfg.Servers = []*TargetServer{
		{Name: "dup", Transport: TransportConfig{Kind: TransportStdio, Command: "x"}},
		{Name: "dup", Transport: TransportConfig{Kind: TransportStdio, Command: "y"}},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate server name")
}

func TestValidateRejectsMissingTransportFields(t *testing.T) {
	cfg := Default()
	cfg.Servers = []*TargetServer{{Name: "s1", Transport: TransportConfig{Kind: TransportSSE}}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires url")
}

func TestValidateRejectsUnknownTransportKind(t *testing.T) {
	cfg := Default()
	cfg.Servers = []*TargetServer{{Name: "s1", Transport: TransportConfig{Kind: "carrier-pigeon"}}}
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateBearerAuthRequiresTokenSource(t *testing.T) {
	cfg := Default()
	cfg.Servers = []*TargetServer{{
		Name:      "s1",
		Transport: TransportConfig{Kind: TransportStdio, Command: "x"},
		Auth:      &AuthConfig{Kind: AuthBearer},
	}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bearer auth requires")
}

func TestValidateOAuth2CodeRejectsReservedExtraParam(t *testing.T) {
	err := ValidateOAuthExtraParams(map[string]string{"client_id": "hijacked"})
	require.Error(t, err)
}

func TestValidateOAuth2CodeRequiresEndpoints(t *testing.T) {
	cfg := Default()
	cfg.Servers = []*TargetServer{{
		Name:      "s1",
		Transport: TransportConfig{Kind: TransportStdio, Command: "x"},
		Auth:      &AuthConfig{Kind: AuthOAuth2Code, ClientID: "abc"},
	}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oauth2-code auth requires")
}
