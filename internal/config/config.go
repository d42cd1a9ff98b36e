package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Shopping ShoppingConfig
	Storage  StorageConfig
	Resolver ResolverConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	TextModel      string
	VisionModel    string
	TimeoutSeconds int
}

type ShoppingConfig struct {
	APIKey         string
	BaseURL        string
	Language       string
	Country        string
	TimeoutSeconds int
}

type StorageConfig struct {
	DataDir string
}

type ResolverConfig struct {
	Concurrency int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Gemini: GeminiConfig{
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			TextModel:      "gemini-2.0-flash",
			VisionModel:    "gemini-2.0-flash",
			TimeoutSeconds: 60,
		},
		Shopping: ShoppingConfig{
			BaseURL:        "https://serpapi.com",
			Language:       "en",
			Country:        "us",
			TimeoutSeconds: 15,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Resolver: ResolverConfig{
			Concurrency: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.seraface.app) and secrets
// fall back to macOS Keychain. On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/seraface/config.json and secrets live in a mode-0600
// secrets file.
//
// Environment variables (SERAFACE_*) override backend values on all
// platforms. The bare GEMINI_API_KEY and SERPAPI_KEY variables are honored
// as fallbacks for their prefixed forms.
//
// Load itself never fails on missing API keys; commands that talk to the
// external services call ValidateServer first.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		if key, err := kc.Get("seraface", "gemini_api_key"); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}
	if cfg.Shopping.APIKey == "" {
		if key, err := kc.Get("seraface", "serpapi_key"); err == nil && key != "" {
			cfg.Shopping.APIKey = key
		}
	}

	return cfg, nil
}

// ValidateServer checks the settings the server cannot run without.
func (c Config) ValidateServer() error {
	var missing []string
	if c.Gemini.APIKey == "" {
		missing = append(missing, "Gemini API key (SERAFACE_GEMINI_API_KEY or GEMINI_API_KEY"+apiKeyHint()+")")
	}
	if c.Shopping.APIKey == "" {
		missing = append(missing, "SerpAPI key (SERAFACE_SERPAPI_KEY or SERPAPI_KEY"+apiKeyHint()+")")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, "; "))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
