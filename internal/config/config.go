package config

import (
	"encoding/json"
	"fmt"
	"time"
)

const defaultListen = "127.0.0.1:8080"

// Duration marshals to/from a human string ("30s", "5m") instead of
// nanoseconds, matching the rest of the config surface.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format: %w", err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config is the root configuration for the gateway process.
type Config struct {
	Listen  string          `json:"listen" mapstructure:"listen"`
	DataDir string          `json:"data_dir" mapstructure:"data-dir"`
	Servers []*TargetServer `json:"mcpServers" mapstructure:"servers"`

	CallToolTimeout Duration `json:"call_tool_timeout" mapstructure:"call-tool-timeout" swaggertype:"string"`

	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	// TokenStorage overrides the auto-selected backend; see
	// internal/tokenstore.Select. Empty means auto.
	TokenStorage string `json:"token_storage,omitempty" mapstructure:"token-storage"`
}

// TargetServer is one upstream MCP server the gateway connects out to.
// name is the primary key across the whole system: it namespaces the
// server's tools (fullName = "{name}__{originalName}") and keys its token
// storage entry.
type TargetServer struct {
	Name      string          `json:"name" mapstructure:"name"`
	Transport TransportConfig `json:"transport" mapstructure:"transport"`
	Env       map[string]string `json:"env,omitempty" mapstructure:"env"`
	Auth      *AuthConfig     `json:"auth,omitempty" mapstructure:"auth"`

	AutoReconnect bool     `json:"auto_reconnect" mapstructure:"auto-reconnect"`
	ExposeTools   []string `json:"expose_tools,omitempty" mapstructure:"expose-tools"`

	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TransportKind tags which variant of TransportConfig is populated.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportWebSocket      TransportKind = "websocket"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// TransportConfig is a tagged variant over the four upstream transport
// kinds spec.md §3 defines. Only the fields relevant to Kind are read.
type TransportConfig struct {
	Kind TransportKind `json:"kind" mapstructure:"kind"`

	// stdio
	Command string   `json:"command,omitempty" mapstructure:"command"`
	Args    []string `json:"args,omitempty" mapstructure:"args"`

	// sse / websocket / streamable-http
	URL          string   `json:"url,omitempty" mapstructure:"url"`
	Timeout      Duration `json:"timeout,omitempty" mapstructure:"timeout" swaggertype:"string"`
	Reconnect    bool     `json:"reconnect,omitempty" mapstructure:"reconnect"`
	PingInterval Duration `json:"ping_interval,omitempty" mapstructure:"ping-interval" swaggertype:"string"`

	// streamable-http resumption
	SessionID string `json:"session_id,omitempty" mapstructure:"session-id"`
}

// AuthKind tags which variant of AuthConfig is populated.
type AuthKind string

const (
	AuthNone            AuthKind = "none"
	AuthBearer          AuthKind = "bearer"
	AuthOAuth2Client    AuthKind = "oauth2-client"
	AuthOAuth2Code      AuthKind = "oauth2-code"
)

// AuthConfig is a tagged variant over spec.md §3's AuthConfig shapes.
type AuthConfig struct {
	Kind AuthKind `json:"kind" mapstructure:"kind"`

	// bearer
	Token    string `json:"token,omitempty" mapstructure:"token"`
	TokenEnv string `json:"token_env,omitempty" mapstructure:"token-env"`

	// oauth2-client / oauth2-code
	ClientID     string   `json:"client_id,omitempty" mapstructure:"client-id"`
	ClientSecret string   `json:"client_secret,omitempty" mapstructure:"client-secret"`
	Scope        string   `json:"scope,omitempty" mapstructure:"scope"`
	Audience     string   `json:"audience,omitempty" mapstructure:"audience"`

	// oauth2-client
	TokenEndpoint string `json:"token_endpoint,omitempty" mapstructure:"token-endpoint"`

	// oauth2-code
	AuthorizationEndpoint string            `json:"authorization_endpoint,omitempty" mapstructure:"authorization-endpoint"`
	RedirectURI           string            `json:"redirect_uri,omitempty" mapstructure:"redirect-uri"`
	ExtraParams           map[string]string `json:"extra_params,omitempty" mapstructure:"extra-params"`
}

// LogConfig configures the zap/lumberjack logging pipeline (internal/logs).
type LogConfig struct {
	Level         string `json:"level,omitempty" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	Filename      string `json:"filename,omitempty" mapstructure:"filename"`
	MaxSize       int    `json:"max_size,omitempty" mapstructure:"max-size"`
	MaxBackups    int    `json:"max_backups,omitempty" mapstructure:"max-backups"`
	MaxAge        int    `json:"max_age,omitempty" mapstructure:"max-age"`
	Compress      bool   `json:"compress,omitempty" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format,omitempty" mapstructure:"json-format"`
}

// Default returns a Config with the gateway's defaults applied.
func Default() *Config {
	return &Config{
		Listen:          defaultListen,
		CallToolTimeout: Duration(30 * time.Second),
		Logging:         &LogConfig{Level: "info", EnableConsole: true},
	}
}
