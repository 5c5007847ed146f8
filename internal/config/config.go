// Package config loads the proxy configuration from YAML or TOML, applies
// environment overrides and watches the file for changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PRUNEPILOT_"

// Config is the application configuration.
type Config struct {
	// Host is the interface to bind. Empty binds all interfaces.
	Host string `yaml:"host" toml:"host" json:"host"`

	// Port is the proxy listen port. 0 means default (8318).
	Port int `yaml:"port" toml:"port" json:"port"`

	// HostURL is the base URL of the agent host's session API.
	HostURL string `yaml:"host-url" toml:"host-url" json:"host-url"`

	// HostToken authenticates calls to the host API.
	HostToken string `yaml:"host-token,omitempty" toml:"host-token,omitempty" json:"-"`

	// Upstream holds the provider base URLs requests are forwarded to.
	Upstream UpstreamConfig `yaml:"upstream" toml:"upstream" json:"upstream"`

	LogLevel string `yaml:"log-level,omitempty" toml:"log-level,omitempty" json:"log-level,omitempty"`

	// LogFile enables rotating file output when set.
	LogFile string `yaml:"log-file,omitempty" toml:"log-file,omitempty" json:"log-file,omitempty"`

	// ManagementKey protects /v0/prune. Empty leaves it open to loopback only.
	ManagementKey string `yaml:"management-key,omitempty" toml:"management-key,omitempty" json:"-"`

	Prune PruneConfig `yaml:"prune" toml:"prune" json:"prune"`

	Persistence PersistenceConfig `yaml:"persistence" toml:"persistence" json:"persistence"`

	// Providers are the credentials used for analysis models.
	Providers []ProviderConfig `yaml:"providers,omitempty" toml:"providers,omitempty" json:"providers,omitempty"`
}

// UpstreamConfig maps wire formats to upstream base URLs.
type UpstreamConfig struct {
	OpenAI    string `yaml:"openai,omitempty" toml:"openai,omitempty" json:"openai,omitempty"`
	Anthropic string `yaml:"anthropic,omitempty" toml:"anthropic,omitempty" json:"anthropic,omitempty"`
	Gemini    string `yaml:"gemini,omitempty" toml:"gemini,omitempty" json:"gemini,omitempty"`
}

// PersistenceConfig selects the snapshot store.
type PersistenceConfig struct {
	// Backend is file, sqlite or postgres. Empty means file.
	Backend string `yaml:"backend,omitempty" toml:"backend,omitempty" json:"backend,omitempty"`
	Dir     string `yaml:"dir,omitempty" toml:"dir,omitempty" json:"dir,omitempty"`
	DSN     string `yaml:"dsn,omitempty" toml:"dsn,omitempty" json:"-"`
}

// ProviderConfig is one analysis model provider.
type ProviderConfig struct {
	ID      string `yaml:"id" toml:"id" json:"id"`
	BaseURL string `yaml:"base-url,omitempty" toml:"base-url,omitempty" json:"base-url,omitempty"`
	// APIKey may reference an environment variable as $NAME or ${NAME}.
	APIKey string `yaml:"api-key,omitempty" toml:"api-key,omitempty" json:"-"`
}

const (
	defaultPort        = 8318
	defaultOpenAI      = "https://api.openai.com"
	defaultAnthropic   = "https://api.anthropic.com"
	defaultGemini      = "https://generativelanguage.googleapis.com"
	defaultPersistence = "prune-state"
)

// GetPort returns the listen port, defaulting to 8318.
func (c *Config) GetPort() int {
	if c == nil || c.Port <= 0 {
		return defaultPort
	}
	return c.Port
}

// UpstreamFor returns the base URL for a wire format family: openai, anthropic or gemini.
func (c *Config) UpstreamFor(family string) string {
	var u UpstreamConfig
	if c != nil {
		u = c.Upstream
	}
	pick := func(v, def string) string {
		if v = strings.TrimRight(strings.TrimSpace(v), "/"); v != "" {
			return v
		}
		return def
	}
	switch family {
	case "anthropic":
		return pick(u.Anthropic, defaultAnthropic)
	case "gemini":
		return pick(u.Gemini, defaultGemini)
	default:
		return pick(u.OpenAI, defaultOpenAI)
	}
}

// GetDir returns the persistence directory.
func (p PersistenceConfig) GetDir() string {
	if strings.TrimSpace(p.Dir) == "" {
		return defaultPersistence
	}
	return p.Dir
}

// LoadConfig reads path. The format follows the extension: .toml is TOML,
// anything else YAML. Environment overrides are applied afterwards.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional is LoadConfig that, when optional is set, treats a
// missing file as an empty configuration.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// Parse decodes data as YAML or, when ext is ".toml", TOML.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	var err error
	if strings.EqualFold(ext, ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for i := range cfg.Providers {
		cfg.Providers[i].ID = strings.ToLower(strings.TrimSpace(cfg.Providers[i].ID))
		cfg.Providers[i].APIKey = expandEnvRef(cfg.Providers[i].APIKey)
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func expandEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if !strings.HasPrefix(s, "$") {
		return v
	}
	name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(s, "$"), "{"), "}")
	if val, ok := os.LookupEnv(name); ok {
		return val
	}
	return ""
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, set func(int)) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				set(n)
			}
		}
	}
	flag := func(key string, set func(bool)) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				set(b)
			}
		}
	}

	str("HOST", &cfg.Host)
	num("PORT", func(n int) { cfg.Port = n })
	str("HOST_URL", &cfg.HostURL)
	str("HOST_TOKEN", &cfg.HostToken)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)
	str("MANAGEMENT_KEY", &cfg.ManagementKey)
	str("UPSTREAM_OPENAI", &cfg.Upstream.OpenAI)
	str("UPSTREAM_ANTHROPIC", &cfg.Upstream.Anthropic)
	str("UPSTREAM_GEMINI", &cfg.Upstream.Gemini)
	str("PRUNE_MODEL", &cfg.Prune.Model)
	str("PRUNE_NOTIFICATION", &cfg.Prune.Notification)
	flag("PRUNE_ENABLED", func(b bool) { cfg.Prune.Enabled = &b })
	flag("PRUNE_STRICT_MODEL_SELECTION", func(b bool) { cfg.Prune.StrictModelSelection = b })
	num("PRUNE_NUDGE_FREQUENCY", func(n int) { cfg.Prune.NudgeFrequency = &n })
	str("PERSISTENCE_BACKEND", &cfg.Persistence.Backend)
	str("PERSISTENCE_DIR", &cfg.Persistence.Dir)
	str("PERSISTENCE_DSN", &cfg.Persistence.DSN)

	// PRUNEPILOT_<PROVIDER>_API_KEY adds or overrides a provider key.
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) || !strings.HasSuffix(key, "_API_KEY") {
			continue
		}
		id := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, EnvPrefix), "_API_KEY"))
		if id == "" || val == "" {
			continue
		}
		cfg.setProviderKey(id, val)
	}
}

func (c *Config) setProviderKey(id, key string) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			c.Providers[i].APIKey = key
			return
		}
	}
	c.Providers = append(c.Providers, ProviderConfig{ID: id, APIKey: key})
}
