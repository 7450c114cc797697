package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderTogether = "together"
)

// Providers lists the providers a key can be stored for.
var Providers = []string{ProviderOpenAI, ProviderGemini, ProviderTogether}

var providerEnv = map[string]string{
	ProviderOpenAI:   "IDEABOARD_OPENAI_API_KEY",
	ProviderGemini:   "IDEABOARD_GEMINI_API_KEY",
	ProviderTogether: "IDEABOARD_TOGETHER_API_KEY",
}

// ErrUnknownProvider is returned for provider names outside Providers.
var ErrUnknownProvider = errors.New("unknown provider")

// DefaultSaveDelay is how long the key store waits after the last edit
// before writing the file.
const DefaultSaveDelay = 300 * time.Millisecond

// KeyStore holds provider API keys as a flat {provider: key} record backed
// by a JSON file. Edits are persisted after a quiet period so a burst of
// keystrokes produces one write.
//
// Environment variables (IDEABOARD_<PROVIDER>_API_KEY) and, on macOS, the
// Keychain fill in keys that the file does not have. Those values are never
// written back.
type KeyStore struct {
	path  string
	delay time.Duration

	mu        sync.Mutex
	stored    map[string]string
	overrides map[string]string
	timer     *time.Timer
	lastErr   error
}

// KeysFilePath returns the default key file location.
func KeysFilePath() string {
	return filepath.Join(defaultDataDir(), "keys.json")
}

// OpenKeyStore loads the key file at path. A missing file is an empty store.
func OpenKeyStore(path string) (*KeyStore, error) {
	return openKeyStore(path, keychainLookup)
}

func openKeyStore(path string, lookup func(account string) (string, error)) (*KeyStore, error) {
	k := &KeyStore{
		path:      path,
		delay:     DefaultSaveDelay,
		stored:    make(map[string]string),
		overrides: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &k.stored); err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", path, err)
		}
		if k.stored == nil {
			k.stored = make(map[string]string)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}

	for _, p := range Providers {
		if v := os.Getenv(providerEnv[p]); v != "" {
			k.overrides[p] = v
			continue
		}
		if k.stored[p] != "" || lookup == nil {
			continue
		}
		if v, err := lookup(p + "_api_key"); err == nil && v != "" {
			k.overrides[p] = v
		}
	}
	return k, nil
}

// SetSaveDelay changes the debounce interval.
func (k *KeyStore) SetSaveDelay(d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.delay = d
}

// Get returns the key for provider, or "" when none is configured.
func (k *KeyStore) Get(provider string) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v := k.overrides[provider]; v != "" {
		return v
	}
	return k.stored[provider]
}

// Set stores key for provider and schedules a write. An empty key removes
// the entry.
func (k *KeyStore) Set(provider, key string) error {
	if !slices.Contains(Providers, provider) {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if key == "" {
		delete(k.stored, provider)
	} else {
		k.stored[provider] = key
	}
	delete(k.overrides, provider)
	k.scheduleLocked()
	return nil
}

// All returns every configured key, overrides included.
func (k *KeyStore) All() map[string]string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := maps.Clone(k.stored)
	for p, v := range k.overrides {
		out[p] = v
	}
	return out
}

// Masked returns every provider with its key reduced to the last four
// characters. Providers without a key map to "".
func (k *KeyStore) Masked() map[string]string {
	all := k.All()
	out := make(map[string]string, len(Providers))
	for _, p := range Providers {
		out[p] = MaskKey(all[p])
	}
	return out
}

// MaskKey hides all but the last four characters of key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// Flush cancels any pending write and saves immediately.
func (k *KeyStore) Flush() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
	return k.saveLocked()
}

// Err returns the error of the last background write, if any.
func (k *KeyStore) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastErr
}

func (k *KeyStore) scheduleLocked() {
	if k.timer != nil {
		k.timer.Stop()
	}
	k.timer = time.AfterFunc(k.delay, func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		k.timer = nil
		if err := k.saveLocked(); err != nil {
			slog.Warn("saving api keys failed", "path", k.path, "error", err)
		}
	})
}

func (k *KeyStore) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		k.lastErr = fmt.Errorf("creating key dir: %w", err)
		return k.lastErr
	}
	data, err := json.MarshalIndent(k.stored, "", "  ")
	if err != nil {
		k.lastErr = err
		return err
	}
	if err := os.WriteFile(k.path, data, 0o600); err != nil {
		k.lastErr = fmt.Errorf("writing key file: %w", err)
		return k.lastErr
	}
	k.lastErr = nil
	return nil
}
