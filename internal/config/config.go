// Package config handles AutoYou configuration loading.
//
// Configuration comes from a single YAML file plus a small set of
// environment overrides that the original deployment scripts rely on
// (USE_GOOGLE_API, OLLAMA_API_BASE, OLLAMA_MODEL, GOOGLE_API_KEY,
// GOOGLE_MODEL). All environment access happens here: components
// receive a constructed *Config and never read the environment
// themselves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/autoyou/config.yaml, /etc/autoyou/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "autoyou", "config.yaml"))
	}

	paths = append(paths, "/etc/autoyou/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all AutoYou configuration.
type Config struct {
	Listen  ListenConfig `yaml:"listen"`
	Models  ModelsConfig `yaml:"models"`
	Google  GoogleConfig `yaml:"google"`
	API     APIConfig    `yaml:"api"`
	DataDir string       `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines local model backend settings and the routing
// override. Preferred is the local model the selector tries first.
type ModelsConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Preferred string `yaml:"preferred"`

	// UseCloud forces the cloud backend regardless of local availability.
	// Mirrors the USE_GOOGLE_API environment switch.
	UseCloud bool `yaml:"use_cloud"`

	// ProbeTimeout bounds the local backend availability probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// GoogleConfig defines cloud backend (Gemini) settings. A missing key
// is not a startup error; generation fails lazily on first use.
type GoogleConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// APIConfig defines HTTP surface settings.
type APIConfig struct {
	// AllowedOrigins for CORS. Default: ["*"].
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads configuration from a YAML file and applies environment
// overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables referenced in the file itself.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Default returns a default configuration with environment overrides
// applied. Useful when no config file exists.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8000},
		Models: ModelsConfig{
			OllamaURL:    "http://localhost:11434",
			Preferred:    "qwen3:4b",
			ProbeTimeout: 3 * time.Second,
		},
		Google: GoogleConfig{
			Model: "gemini-2.5-flash",
		},
		API: APIConfig{
			AllowedOrigins: []string{"*"},
		},
		DataDir: ".",
	}
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides maps the original deployment environment variables
// onto the config struct. YAML values lose to explicit environment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("USE_GOOGLE_API"); v != "" {
		c.Models.UseCloud = parseBool(v)
	}
	if v := os.Getenv("OLLAMA_API_BASE"); v != "" {
		c.Models.OllamaURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		c.Models.Preferred = stripProviderPrefix(v)
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Google.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Google.APIKey == "" {
		c.Google.APIKey = v
	}
	if v := os.Getenv("GOOGLE_MODEL"); v != "" {
		c.Google.Model = v
	}
}

// parseBool accepts the original switch spellings: 1, true, yes.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// stripProviderPrefix removes a "provider/" prefix from a model name
// (e.g. "ollama_chat/qwen3:4b" → "qwen3:4b").
func stripProviderPrefix(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// CloudCredentialPresent reports whether a usable cloud API key is
// configured. The literal "NULL" is the original's placeholder for an
// unset key and is treated as absent.
func (c *Config) CloudCredentialPresent() bool {
	return c.Google.APIKey != "" && c.Google.APIKey != "NULL"
}
