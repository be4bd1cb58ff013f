package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".mcpmux"
	ConfigFileName = "mcpmux.json"
)

// LoadFromFile reads and validates a config file, applying defaults for
// anything left unset.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads the file named by the MCPMUX_CONFIG environment variable, or
// else the first well-known config file findConfigFile finds, falling back to
// defaults when there is none. No other environment variable overrides a
// config value, and no command-line flag is read here.
func Load() (*Config, error) {
	setupViper()

	configPath := viper.GetString("config")
	if configPath == "" {
		if found, path := findConfigFile(); found {
			configPath = path
		}
	}
	return LoadFromFile(configPath)
}

func setupViper() {
	viper.SetEnvPrefix("MCPMUX")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

func findConfigFile() (bool, string) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return false, ""
	}
	candidates := []string{
		filepath.Join(".", ConfigFileName),
		filepath.Join(homeDir, DefaultDataDir, ConfigFileName),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return true, c
		}
	}
	return false, ""
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}
