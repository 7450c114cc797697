package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend holds persisted settings keyed by dotted name ("server.port").
// Values come back as their raw text form; typing is done by the key table.
type Backend interface {
	Lookup(key string) (raw string, ok bool, err error)
	Store(key string, value any) error
}

// fileBackend keeps settings in a JSON document grouped by section:
//
//	{"server": {"port": 4100}, "openai": {"model": "gpt-4.1"}}
type fileBackend struct {
	path     string
	sections map[string]map[string]json.RawMessage
}

func openFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, sections: make(map[string]map[string]json.RawMessage)}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
	default:
		if err := json.Unmarshal(data, &b.sections); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
			b.sections = make(map[string]map[string]json.RawMessage)
		}
	}
	return b
}

func splitKey(key string) (section, name string, err error) {
	section, name, ok := strings.Cut(key, ".")
	if !ok || section == "" || name == "" {
		return "", "", fmt.Errorf("malformed config key %q", key)
	}
	return section, name, nil
}

func (b *fileBackend) Lookup(key string) (string, bool, error) {
	section, name, err := splitKey(key)
	if err != nil {
		return "", false, err
	}
	raw, ok := b.sections[section][name]
	if !ok {
		return "", false, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", true, fmt.Errorf("decoding %s: %w", key, err)
		}
		return s, true, nil
	}
	return string(raw), true, nil
}

func (b *fileBackend) Store(key string, value any) error {
	section, name, err := splitKey(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if b.sections[section] == nil {
		b.sections[section] = make(map[string]json.RawMessage)
	}
	b.sections[section][name] = raw

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.sections, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o600)
}

// ConfigFilePath is $XDG_CONFIG_HOME/ideaboard/config.json, or the macOS
// Application Support equivalent.
func ConfigFilePath() string {
	return filepath.Join(configDir(), "config.json")
}
