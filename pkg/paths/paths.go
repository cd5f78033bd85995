package paths

import (
	"os"
	"path/filepath"
)

const appName = "sidekick"

// GetConfigDir returns the directory holding settings.yaml.
// SIDEKICK_CONFIG_DIR overrides the default.
func GetConfigDir() string {
	if dir := os.Getenv("SIDEKICK_CONFIG_DIR"); dir != "" {
		return filepath.Clean(dir)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(os.TempDir(), "."+appName+"-config")
}

// GetDataDir returns the directory for sessions and logs.
// SIDEKICK_DATA_DIR overrides the default.
func GetDataDir() string {
	if dir := os.Getenv("SIDEKICK_DATA_DIR"); dir != "" {
		return filepath.Clean(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "."+appName)
	}
	return filepath.Join(homeDir, "."+appName)
}

func SettingsFile() string {
	return filepath.Join(GetConfigDir(), "settings.yaml")
}

func SessionDB() string {
	return filepath.Join(GetDataDir(), "session.db")
}

func DebugLog() string {
	return filepath.Join(GetDataDir(), appName+".debug.log")
}
