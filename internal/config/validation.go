package config

import (
	"fmt"
	"strings"
)

// reservedOAuthParams contains OAuth 2.0/2.1 parameters that cannot be overridden.
var reservedOAuthParams = map[string]bool{
	"client_id":             true,
	"client_secret":         true,
	"redirect_uri":          true,
	"response_type":         true,
	"scope":                 true,
	"state":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
	"grant_type":            true,
	"code":                  true,
	"refresh_token":         true,
	"token_type":            true,
}

// ValidateOAuthExtraParams ensures extra_params don't override reserved parameters.
func ValidateOAuthExtraParams(params map[string]string) error {
	for key := range params {
		if reservedOAuthParams[strings.ToLower(key)] {
			return fmt.Errorf("extra_params cannot override reserved OAuth parameter: %s", key)
		}
	}
	return nil
}

// Validate checks cfg against spec.md §3's TargetServer/TransportConfig/
// AuthConfig invariants: unique server names, a populated transport variant,
// and a well-formed auth variant.
func Validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if s.Name == "" {
			return fmt.Errorf("server entry missing name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name: %s", s.Name)
		}
		seen[s.Name] = true

		if err := validateTransport(s.Name, s.Transport); err != nil {
			return err
		}
		if s.Auth != nil {
			if err := validateAuth(s.Name, s.Auth); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTransport(serverName string, tc TransportConfig) error {
	switch tc.Kind {
	case TransportStdio:
		if tc.Command == "" {
			return fmt.Errorf("server %q: stdio transport requires command", serverName)
		}
	case TransportSSE, TransportWebSocket, TransportStreamableHTTP:
		if tc.URL == "" {
			return fmt.Errorf("server %q: %s transport requires url", serverName, tc.Kind)
		}
	default:
		return fmt.Errorf("server %q: unknown transport kind %q", serverName, tc.Kind)
	}
	return nil
}

func validateAuth(serverName string, ac *AuthConfig) error {
	switch ac.Kind {
	case AuthNone:
	case AuthBearer:
		if ac.Token == "" && ac.TokenEnv == "" {
			return fmt.Errorf("server %q: bearer auth requires token or token_env", serverName)
		}
	case AuthOAuth2Client:
		if ac.ClientID == "" || ac.TokenEndpoint == "" {
			return fmt.Errorf("server %q: oauth2-client auth requires client_id and token_endpoint", serverName)
		}
	case AuthOAuth2Code:
		if ac.ClientID == "" || ac.AuthorizationEndpoint == "" || ac.TokenEndpoint == "" || ac.RedirectURI == "" {
			return fmt.Errorf("server %q: oauth2-code auth requires client_id, authorization_endpoint, token_endpoint, redirect_uri", serverName)
		}
		if err := ValidateOAuthExtraParams(ac.ExtraParams); err != nil {
			return fmt.Errorf("server %q: %w", serverName, err)
		}
	default:
		return fmt.Errorf("server %q: unknown auth kind %q", serverName, ac.Kind)
	}
	return nil
}
