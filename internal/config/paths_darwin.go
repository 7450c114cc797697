//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func appSupportDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ideaboard-data"
	}
	return filepath.Join(home, "Library", "Application Support", "ideaboard")
}

func defaultDataDir() string { return appSupportDir() }

func configDir() string { return appSupportDir() }
