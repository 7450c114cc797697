package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "IDEABOARD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "IDEABOARD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "IDEABOARD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "openai.base_url", typ: kString, env: "IDEABOARD_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "IDEABOARD_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "openai.fast_model", typ: kString, env: "IDEABOARD_OPENAI_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.FastModel },
	},
	{
		key: "gemini.base_url", typ: kString, env: "IDEABOARD_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.text_model", typ: kString, env: "IDEABOARD_GEMINI_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.TextModel },
	},
	{
		key: "gemini.image_model", typ: kString, env: "IDEABOARD_GEMINI_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.ImageModel },
	},
	{
		key: "together.base_url", typ: kString, env: "IDEABOARD_TOGETHER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Together.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Together.BaseURL },
	},
	{
		key: "together.image_model", typ: kString, env: "IDEABOARD_TOGETHER_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Together.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Together.ImageModel },
	},
	{
		key: "generation.rate_per_minute", typ: kInt, env: "IDEABOARD_GENERATION_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Generation.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.RatePerMinute },
	},
	{
		key: "generation.burst", typ: kInt, env: "IDEABOARD_GENERATION_BURST",
		apply:   func(cfg *Config, v any) { cfg.Generation.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.Burst },
	},
	{
		key: "generation.design_temperature", typ: kFloat, env: "IDEABOARD_GENERATION_DESIGN_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.DesignTemperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.DesignTemperature },
	},
	{
		key: "render.auto", typ: kBool, env: "IDEABOARD_RENDER_AUTO",
		apply:   func(cfg *Config, v any) { cfg.Render.Auto = v.(bool) },
		extract: func(cfg Config) any { return cfg.Render.Auto },
	},
	{
		key: "render.poll_interval", typ: kString, env: "IDEABOARD_RENDER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Render.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Render.PollInterval },
	},
	{
		key: "render.width", typ: kInt, env: "IDEABOARD_RENDER_WIDTH",
		apply:   func(cfg *Config, v any) { cfg.Render.Width = v.(int) },
		extract: func(cfg Config) any { return cfg.Render.Width },
	},
	{
		key: "render.height", typ: kInt, env: "IDEABOARD_RENDER_HEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Render.Height = v.(int) },
		extract: func(cfg Config) any { return cfg.Render.Height },
	},
}

// parse converts raw text into the Go type the key expects.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func (s keySpec) kind() string {
	return [...]string{"string", "integer", "bool", "float"}[s.typ]
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.kind(), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.kind(), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
