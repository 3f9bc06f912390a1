// Package config manages cloudgate user-level configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	ConfigDirName   = ".cloudgate"
	ConfigFileName  = "config.json"
	DefaultLogLevel = "info"
)

// GlobalConfig holds user-level configuration for the cloudgate CLI. It is
// distinct from the workspace's GlobalSettings: this file configures the
// tool, the workspace document configures the managed sessions.
type GlobalConfig struct {
	DefaultRegion  string `json:"default_region"`
	LogLevel       string `json:"log_level"`
	WorkspaceDir   string `json:"workspace_dir"`     // directory holding the workspace document
	SecretMode     string `json:"secret_mode"`       // os_keyring | file_vault | memory_only
	SsoPollTimeout int    `json:"sso_poll_timeout"`  // seconds, upper bound for the browser wait
	JournalEnabled bool   `json:"journal_enabled"`   // append-only activity journal
}

// Secret store modes.
const (
	SecretModeOSKeyring  = "os_keyring"
	SecretModeFileVault  = "file_vault"
	SecretModeMemoryOnly = "memory_only"
)

// DefaultGlobalConfig returns sensible defaults.
func DefaultGlobalConfig() GlobalConfig {
	home, _ := os.UserHomeDir()
	return GlobalConfig{
		DefaultRegion:  "us-east-1",
		LogLevel:       DefaultLogLevel,
		WorkspaceDir:   filepath.Join(home, ConfigDirName),
		SecretMode:     SecretModeOSKeyring,
		SsoPollTimeout: 600,
		JournalEnabled: true,
	}
}

// ConfigDir returns the global cloudgate config directory path.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// LoadGlobalConfig loads the global config from ~/.cloudgate/config.json.
// A missing file yields the defaults.
func LoadGlobalConfig() (GlobalConfig, error) {
	path := filepath.Join(ConfigDir(), ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultGlobalConfig(), nil
		}
		return GlobalConfig{}, err
	}

	cfg := DefaultGlobalConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

// SaveGlobalConfig persists the global config to ~/.cloudgate/config.json.
func SaveGlobalConfig(cfg GlobalConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0600)
}
