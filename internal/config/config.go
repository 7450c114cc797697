package config

import (
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	Together   TogetherConfig
	Generation GenerationConfig
	Render     RenderConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type OpenAIConfig struct {
	BaseURL   string
	Model     string
	FastModel string
}

type GeminiConfig struct {
	BaseURL    string
	TextModel  string
	ImageModel string
}

type TogetherConfig struct {
	BaseURL    string
	ImageModel string
}

type GenerationConfig struct {
	RatePerMinute     int
	Burst             int
	DesignTemperature float64
}

type RenderConfig struct {
	Auto         bool
	PollInterval string
	Width        int
	Height       int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		OpenAI: OpenAIConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4.1",
			FastModel: "gpt-5-mini",
		},
		Gemini: GeminiConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			TextModel:  "gemini-2.5-flash",
			ImageModel: "gemini-2.5-flash-image-preview",
		},
		Together: TogetherConfig{
			BaseURL:    "https://api.together.xyz/v1",
			ImageModel: "black-forest-labs/FLUX.1-schnell",
		},
		Generation: GenerationConfig{
			RatePerMinute:     30,
			Burst:             5,
			DesignTemperature: 0.3,
		},
		Render: RenderConfig{
			Auto:         true,
			PollInterval: "500ms",
			Width:        1024,
			Height:       768,
		},
	}
}

// Load reads the config file at ConfigFilePath, then applies IDEABOARD_*
// environment overrides. Provider API keys are not part of Config; see KeyStore.
func Load() (Config, error) {
	return loadWith(openFileBackend(ConfigFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// PollInterval parses Render.PollInterval, falling back to 500ms.
func (c Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Render.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// Debug reports whether debug logging is requested.
func (c Config) Debug() bool {
	return strings.EqualFold(c.Log.Level, "debug")
}
