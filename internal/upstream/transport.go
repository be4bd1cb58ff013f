package upstream

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mcpmux/gateway/internal/config"
	"github.com/mcpmux/gateway/internal/transport"
)

// buildTransport constructs the transport.Transport for one TargetServer's
// TransportConfig, wiring auth (when present) into the network variants. env
// is the already-resolved child-process environment for stdio.
func buildTransport(cfg config.TargetServer, env []string, authProvider transport.AuthProvider, httpClient *http.Client, onReconnect func(), logger *zap.Logger) (transport.Transport, error) {
	tc := cfg.Transport

	switch tc.Kind {
	case config.TransportStdio:
		return transport.NewStdio(tc.Command, tc.Args, env, cfg.Name, logger), nil

	case config.TransportSSE:
		return transport.NewSSE(tc.URL, authProvider, httpClient, onReconnect, logger), nil

	case config.TransportWebSocket:
		interval := tc.PingInterval.Duration()
		if interval <= 0 {
			interval = 30 * time.Second
		}
		return transport.NewWebSocket(tc.URL, authProvider, interval, onReconnect, logger), nil

	case config.TransportStreamableHTTP:
		return transport.NewStreamableHTTP(tc.URL, authProvider, httpClient, logger), nil

	default:
		return nil, fmt.Errorf("server %q: unknown transport kind %q", cfg.Name, tc.Kind)
	}
}
