//go:build !darwin

package config

import "errors"

var errNoKeychain = errors.New("keychain not available on this platform")

func keychainLookup(account string) (string, error) {
	return "", errNoKeychain
}
