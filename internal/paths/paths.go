// Package paths resolves where entitymap keeps its configuration and its
// database.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used under the platform config and data
// roots.
const AppName = "entitymap"

// DefaultDataDirName is the working-directory fallback for the data
// directory.
const DefaultDataDirName = ".entitymap-db"

// Environment overrides.
const (
	EnvConfigDir = "ENTITYMAP_CONFIG_DIR"
	EnvDataDir   = "ENTITYMAP_DATA_DIR"
)

// Overridable in tests.
var (
	homeDir       = os.UserHomeDir
	userConfigDir = os.UserConfigDir
	goos          = runtime.GOOS
)

// platformDir returns AppName under the XDG variable xdgEnv, falling back to
// ~/<linuxRel> on Linux and to the user config dir elsewhere.
func platformDir(xdgEnv string, linuxRel ...string) (string, error) {
	if goos != "linux" {
		dir, err := userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(xdgEnv); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, linuxRel...), AppName)...), nil
}

// DefaultConfigDir is $XDG_CONFIG_HOME/entitymap (~/.config/entitymap) on
// Linux and os.UserConfigDir()/entitymap elsewhere.
func DefaultConfigDir() (string, error) {
	return platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir is $XDG_DATA_HOME/entitymap (~/.local/share/entitymap) on
// Linux and os.UserConfigDir()/entitymap elsewhere.
func DefaultDataDir() (string, error) {
	return platformDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir applies flag > ENTITYMAP_CONFIG_DIR > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if dir := firstSet(flag, os.Getenv(EnvConfigDir)); dir != "" {
		return filepath.Abs(dir)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies flag > config file value > ENTITYMAP_DATA_DIR >
// ./.entitymap-db. The platform data dir is never chosen implicitly so that
// a database stays next to the project that uses it.
func ResolveDataDir(flag, configValue string) (string, error) {
	if dir := firstSet(flag, configValue, os.Getenv(EnvDataDir)); dir != "" {
		return filepath.Abs(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
