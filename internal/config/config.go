package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultHost           = "127.0.0.1"
	DefaultYAMLFilename   = "config.yaml"
	DefaultJSONFilename   = "config.json"
	DefaultContextWindow  = 200000
	DefaultOpenRouterBase = "https://openrouter.ai/api/v1"
	DefaultLocalBase      = "http://127.0.0.1:1234/v1"
	DefaultGeminiBase     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultAnthropicBase  = "https://api.anthropic.com"
)

// Backend names, as used in config sections, logs and metrics labels.
const (
	BackendOpenRouter = "openrouter"
	BackendLocal      = "local"
	BackendGemini     = "gemini"
	BackendAnthropic  = "anthropic"
)

// DefaultNativePrefixes are the model-id prefixes routed to the native chat backend.
var DefaultNativePrefixes = []string{"gemini-"}

type Provider struct {
	APIBase string `json:"api_base_url" yaml:"api_base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

// Configured reports whether the provider has enough to be dialed.
func (p Provider) Configured() bool {
	return p.APIBase != "" && p.APIKey != ""
}

type LocalProvider struct {
	APIBase       string `json:"api_base_url" yaml:"api_base_url"`
	APIKey        string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model         string `json:"model,omitempty" yaml:"model,omitempty"`
	TextToolCalls bool   `json:"text_tool_calls,omitempty" yaml:"text_tool_calls,omitempty"`
}

type RouterConfig struct {
	Default        string   `json:"default,omitempty" yaml:"default,omitempty"`
	Opus           string   `json:"opus,omitempty" yaml:"opus,omitempty"`
	Sonnet         string   `json:"sonnet,omitempty" yaml:"sonnet,omitempty"`
	Haiku          string   `json:"haiku,omitempty" yaml:"haiku,omitempty"`
	ForceNative    bool     `json:"force_native,omitempty" yaml:"force_native,omitempty"`
	ForceLocal     bool     `json:"force_local,omitempty" yaml:"force_local,omitempty"`
	NativePrefixes []string `json:"native_prefixes,omitempty" yaml:"native_prefixes,omitempty"`
}

// TierOverride returns the configured override for a tier name.
func (r RouterConfig) TierOverride(tier string) string {
	switch tier {
	case "opus":
		return r.Opus
	case "sonnet":
		return r.Sonnet
	case "haiku":
		return r.Haiku
	}
	return ""
}

type AdaptersConfig struct {
	ReasoningModels []string `json:"reasoning_models,omitempty" yaml:"reasoning_models,omitempty"`
	TextToolModels  []string `json:"text_tool_models,omitempty" yaml:"text_tool_models,omitempty"`
	MergeArgsModels []string `json:"merge_args_models,omitempty" yaml:"merge_args_models,omitempty"`
}

type Pricing struct {
	InputPerMTok  float64 `json:"input_per_mtok,omitempty" yaml:"input_per_mtok,omitempty"`
	OutputPerMTok float64 `json:"output_per_mtok,omitempty" yaml:"output_per_mtok,omitempty"`
}

type Config struct {
	Host    string `json:"host,omitempty" yaml:"host,omitempty"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Monitor bool   `json:"monitor,omitempty" yaml:"monitor,omitempty"`

	// BackendTimeoutSeconds bounds a whole backend call. Zero leaves it unbounded.
	BackendTimeoutSeconds int  `json:"backend_timeout_seconds,omitempty" yaml:"backend_timeout_seconds,omitempty"`
	Tiktoken              bool `json:"tiktoken,omitempty" yaml:"tiktoken,omitempty"`

	Router     RouterConfig   `json:"router" yaml:"router"`
	OpenRouter Provider       `json:"openrouter" yaml:"openrouter"`
	Local      LocalProvider  `json:"local" yaml:"local"`
	Gemini     Provider       `json:"gemini" yaml:"gemini"`
	Anthropic  Provider       `json:"anthropic" yaml:"anthropic"`
	Adapters   AdaptersConfig `json:"adapters" yaml:"adapters"`
	Pricing    Pricing        `json:"pricing" yaml:"pricing"`
}

// BackendTimeout returns the configured backend timeout as a duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns a config populated with every default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.OpenRouter.APIBase == "" {
		c.OpenRouter.APIBase = DefaultOpenRouterBase
	}
	if c.Local.APIBase == "" {
		c.Local.APIBase = DefaultLocalBase
	}
	if c.Gemini.APIBase == "" {
		c.Gemini.APIBase = DefaultGeminiBase
	}
	if c.Anthropic.APIBase == "" {
		c.Anthropic.APIBase = DefaultAnthropicBase
	}
	if len(c.Router.NativePrefixes) == 0 {
		c.Router.NativePrefixes = append([]string(nil), DefaultNativePrefixes...)
	}
	if len(c.Adapters.ReasoningModels) == 0 {
		c.Adapters.ReasoningModels = []string{"o1", "o3", "o4-mini", "gpt-5"}
	}
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("CCB_PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Port = port
		}
	}
	if v, ok := os.LookupEnv("CCB_MONITOR"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Monitor = b
		}
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.OpenRouter.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Anthropic.APIKey = v
	}
	if v := os.Getenv("LOCAL_API_BASE"); v != "" {
		c.Local.APIBase = v
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Router.ForceNative && c.Router.ForceLocal {
		errs = append(errs, errors.New("router.force_native and router.force_local are mutually exclusive"))
	}
	if c.Router.ForceNative && c.Gemini.APIKey == "" {
		errs = append(errs, errors.New("router.force_native requires gemini.api_key"))
	}
	if c.Router.ForceLocal && c.Local.APIBase == "" {
		errs = append(errs, errors.New("router.force_local requires local.api_base_url"))
	}
	if c.BackendTimeoutSeconds < 0 {
		errs = append(errs, errors.New("backend_timeout_seconds must not be negative"))
	}
	if c.Pricing.InputPerMTok < 0 || c.Pricing.OutputPerMTok < 0 {
		errs = append(errs, errors.New("pricing must not be negative"))
	}
	for _, p := range c.Router.NativePrefixes {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, errors.New("router.native_prefixes contains an empty prefix"))
			break
		}
	}

	return errors.Join(errs...)
}

type Manager struct {
	baseDir     string
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	m := &Manager{baseDir: baseDir}
	m.configPath = m.resolvePath()
	return m
}

// resolvePath prefers the YAML file and falls back to JSON.
func (m *Manager) resolvePath() string {
	yamlPath := filepath.Join(m.baseDir, DefaultYAMLFilename)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	jsonPath := filepath.Join(m.baseDir, DefaultJSONFilename)
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath
	}
	return yamlPath
}

func (m *Manager) Load() (*Config, error) {
	m.configPath = m.resolvePath()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data, isYAML(m.configPath))
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()
	m.configValue.Store(cfg)
	return cfg, nil
}

// Parse decodes a config document and applies defaults.
func Parse(data []byte, asYAML bool) (*Config, error) {
	var cfg Config
	if asYAML {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = Default()
		cfg.ApplyEnv()
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(m.configPath) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) BaseDir() string {
	return m.baseDir
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
