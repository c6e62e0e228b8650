package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withPlatform fakes the OS and home directory for one test.
func withPlatform(t *testing.T, osName, home string) {
	t.Helper()
	oldOS, oldHome, oldConfig := goos, homeDir, userConfigDir
	t.Cleanup(func() { goos, homeDir, userConfigDir = oldOS, oldHome, oldConfig })
	goos = osName
	homeDir = func() (string, error) { return home, nil }
	userConfigDir = func() (string, error) { return filepath.Join(home, "Library", "Application Support"), nil }
}

func TestDefaultDirs(t *testing.T) {
	tests := []struct {
		name       string
		os         string
		xdgConfig  string
		xdgData    string
		wantConfig string
		wantData   string
	}{
		{
			name:       "linux with XDG",
			os:         "linux",
			xdgConfig:  "/xdg/config",
			xdgData:    "/xdg/data",
			wantConfig: "/xdg/config/entitymap",
			wantData:   "/xdg/data/entitymap",
		},
		{
			name:       "linux without XDG",
			os:         "linux",
			wantConfig: "/home/ann/.config/entitymap",
			wantData:   "/home/ann/.local/share/entitymap",
		},
		{
			name:       "darwin",
			os:         "darwin",
			xdgConfig:  "/ignored",
			wantConfig: "/home/ann/Library/Application Support/entitymap",
			wantData:   "/home/ann/Library/Application Support/entitymap",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withPlatform(t, tt.os, "/home/ann")
			t.Setenv("XDG_CONFIG_HOME", tt.xdgConfig)
			t.Setenv("XDG_DATA_HOME", tt.xdgData)

			got, err := DefaultConfigDir()
			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, got)

			got, err = DefaultDataDir()
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, got)
		})
	}
}

func TestDefaultConfigDirHomeError(t *testing.T) {
	withPlatform(t, "linux", "")
	homeDir = func() (string, error) { return "", errors.New("no home") }
	t.Setenv("XDG_CONFIG_HOME", "")

	_, err := DefaultConfigDir()
	assert.EqualError(t, err, "no home")
}

func TestResolveConfigDir(t *testing.T) {
	withPlatform(t, "linux", "/home/ann")
	t.Setenv("XDG_CONFIG_HOME", "")

	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"flag wins over env", "/explicit/config", "/env/config", "/explicit/config"},
		{"env when flag empty", "", "/env/config", "/env/config"},
		{"platform default", "", "", "/home/ann/.config/entitymap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigDir, tt.env)
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name   string
		flag   string
		config string
		env    string
		want   string
	}{
		{"flag wins over all", "/flag/data", "/config/data", "/env/data", "/flag/data"},
		{"config wins over env", "", "/config/data", "/env/data", "/config/data"},
		{"env when flag and config empty", "", "", "/env/data", "/env/data"},
		{"working directory default", "", "", "", filepath.Join(cwd, DefaultDataDirName)},
		{"relative flag made absolute", "rel/data", "", "", filepath.Join(cwd, "rel", "data")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDataDir, tt.env)
			got, err := ResolveDataDir(tt.flag, tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
