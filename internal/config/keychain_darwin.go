//go:build darwin

package config

import (
	"os/exec"
	"strings"
)

// keychainLookup reads a provider key stored with
// `security add-generic-password -s ideaboard -a <provider>_api_key`.
func keychainLookup(account string) (string, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", "ideaboard",
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
