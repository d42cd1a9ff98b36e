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
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	// fallbackEnv is consulted when env is unset; it lets the server honor
	// the unprefixed variable names the upstream services document.
	fallbackEnv string
	secret      bool
	apply       func(cfg *Config, v any)
	extract     func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SERAFACE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "SERAFACE_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "gemini.api_key", typ: kString, env: "SERAFACE_GEMINI_API_KEY",
		fallbackEnv: "GEMINI_API_KEY",
		secret:      true,
		apply:       func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract:     func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.base_url", typ: kString, env: "SERAFACE_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.text_model", typ: kString, env: "SERAFACE_GEMINI_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.TextModel },
	},
	{
		key: "gemini.vision_model", typ: kString, env: "SERAFACE_GEMINI_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.VisionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.VisionModel },
	},
	{
		key: "gemini.timeout_seconds", typ: kInt, env: "SERAFACE_GEMINI_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Gemini.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Gemini.TimeoutSeconds },
	},
	{
		key: "shopping.api_key", typ: kString, env: "SERAFACE_SERPAPI_KEY",
		fallbackEnv: "SERPAPI_KEY",
		secret:      true,
		apply:       func(cfg *Config, v any) { cfg.Shopping.APIKey = v.(string) },
		extract:     func(cfg Config) any { return cfg.Shopping.APIKey },
	},
	{
		key: "shopping.base_url", typ: kString, env: "SERAFACE_SHOPPING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Shopping.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Shopping.BaseURL },
	},
	{
		key: "shopping.language", typ: kString, env: "SERAFACE_SHOPPING_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Shopping.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Shopping.Language },
	},
	{
		key: "shopping.country", typ: kString, env: "SERAFACE_SHOPPING_COUNTRY",
		apply:   func(cfg *Config, v any) { cfg.Shopping.Country = v.(string) },
		extract: func(cfg Config) any { return cfg.Shopping.Country },
	},
	{
		key: "shopping.timeout_seconds", typ: kInt, env: "SERAFACE_SHOPPING_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Shopping.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Shopping.TimeoutSeconds },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SERAFACE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "resolver.concurrency", typ: kInt, env: "SERAFACE_RESOLVER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Resolver.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Resolver.Concurrency },
	},
	{
		key: "log.level", typ: kString, env: "SERAFACE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" && s.fallbackEnv != "" {
			raw = os.Getenv(s.fallbackEnv)
		}
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
