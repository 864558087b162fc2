package config

import (
	"os"
	"path/filepath"
)

// FoundryPath returns the root directory for Foundry data.
// It uses $FOUNDRY_PATH if set, otherwise defaults to ~/.foundry.
func FoundryPath() string {
	if v := os.Getenv("FOUNDRY_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".foundry")
	}
	return filepath.Join(home, ".foundry")
}

// ConfigPath returns the path to the Foundry config file.
func ConfigPath() string {
	return filepath.Join(FoundryPath(), "config.jsonc")
}

// DotenvPath returns the path to the Foundry .env file.
func DotenvPath() string {
	return filepath.Join(FoundryPath(), ".env")
}

// KeyPath returns the path to the age key used for encrypted config values.
func KeyPath() string {
	return filepath.Join(FoundryPath(), ".age-key")
}

// HeartbeatPath returns the path to the daemon heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(FoundryPath(), "heartbeat")
}
