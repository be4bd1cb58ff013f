package upstream

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/mcpmux/gateway/internal/auth"
	"github.com/mcpmux/gateway/internal/config"
	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/tokenstore"
	"github.com/mcpmux/gateway/internal/transport"
)

// tokenStorageNamespace is both the env-var prefix for the explicit
// token-storage override and the OS keychain account namespace, per
// spec.md §6.
const tokenStorageNamespace = "MCPMUX"

// buildAuthProvider resolves one TargetServer's AuthConfig into the narrow
// transport.AuthProvider its transport needs, per spec.md §4.2, plus the raw
// auth.Provider underneath it so the Proxy Core can reach an
// *auth.AuthCodeProvider's Complete method for completeOAuthFlow. A nil/none
// config yields two nil providers: callers attach no auth headers at all.
func buildAuthProvider(serverName string, ac *config.AuthConfig, coord *oauthcoord.Coordinator, httpClient *http.Client, dataDir string, logger *zap.Logger) (transport.AuthProvider, auth.Provider, error) {
	if ac == nil || ac.Kind == config.AuthNone {
		return nil, nil, nil
	}

	switch ac.Kind {
	case config.AuthBearer:
		token := ac.Token
		if ac.TokenEnv != "" {
			token = os.Getenv(ac.TokenEnv)
			if token == "" {
				return nil, nil, fmt.Errorf("server %q: token_env %q is unset", serverName, ac.TokenEnv)
			}
		}
		provider := auth.NewBearerProvider(token)
		return auth.NewHeaderAdapter(provider, false), provider, nil

	case config.AuthOAuth2Client:
		var provider auth.Provider = auth.NewClientCredentialsProvider(ac.TokenEndpoint, ac.ClientID, ac.ClientSecret, splitScope(ac.Scope), httpClient, logger)
		if storage, _, err := tokenstore.Select(tokenStorageNamespace, serverName, tokenstore.DefaultRefreshBuffer, dataDir, logger); err != nil {
			logger.Warn("token storage unavailable, acquiring a fresh token on every reconnect", zap.String("server", serverName), zap.Error(err))
		} else {
			provider = auth.NewPersistedProvider(provider, storage, logger)
		}
		return auth.NewHeaderAdapter(provider, true), provider, nil

	case config.AuthOAuth2Code:
		var storage tokenstore.Storage
		if s, _, err := tokenstore.Select(tokenStorageNamespace, serverName, tokenstore.DefaultRefreshBuffer, dataDir, logger); err != nil {
			logger.Warn("token storage unavailable, re-authorizing interactively on every restart", zap.String("server", serverName), zap.Error(err))
		} else {
			storage = s
		}
		provider := auth.NewAuthCodeProvider(auth.AuthCodeConfig{
			ServerName:       serverName,
			AuthorizationURL: ac.AuthorizationEndpoint,
			TokenURL:         ac.TokenEndpoint,
			ClientID:         ac.ClientID,
			ClientSecret:     ac.ClientSecret,
			RedirectURI:      ac.RedirectURI,
			Scopes:           splitScope(ac.Scope),
			Audience:         ac.Audience,
			ExtraParams:      ac.ExtraParams,
			Storage:          storage,
		}, coord, httpClient, logger)
		return auth.NewHeaderAdapter(provider, true), provider, nil

	default:
		return nil, nil, fmt.Errorf("server %q: unknown auth kind %q", serverName, ac.Kind)
	}
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return []string{scope}
}
