//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

// xdgDir resolves an XDG base directory, falling back to fallback under $HOME.
func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "ideaboard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ideaboard-data"
	}
	return filepath.Join(home, fallback, "ideaboard")
}

func defaultDataDir() string { return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")) }

func configDir() string { return xdgDir("XDG_CONFIG_HOME", ".config") }
