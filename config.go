package ghostline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	defaults "github.com/hollowbyte/ghostline/default"
)

// Config represents the user's ghostline configuration.
type Config struct {
	Version     int               `toml:"version" json:"version"`
	Server      ServerConfig      `toml:"server" json:"server"`
	FIM         FIMConfig         `toml:"fim" json:"fim"`
	Trigger     TriggerConfig     `toml:"trigger" json:"trigger"`
	Context     ContextConfig     `toml:"context" json:"context"`
	LangContext LangContextConfig `toml:"lang_context" json:"lang_context"`
	Generation  GenerationConfig  `toml:"generation" json:"generation"`
	Embedding   EmbeddingConfig   `toml:"embedding" json:"embedding"`
	Filetypes   FiletypesConfig   `toml:"filetypes" json:"filetypes"`
	Keymaps     KeymapsConfig     `toml:"keymaps" json:"keymaps"`
}

// ServerConfig holds settings for the generation server.
type ServerConfig struct {
	Endpoint  string `toml:"endpoint" json:"endpoint"`
	Model     string `toml:"model" json:"model"`
	TimeoutMs int    `toml:"timeout_ms" json:"timeout_ms"`
}

// FIMConfig selects the Fill-in-the-Middle token triple, either by preset
// name or as explicit tokens. Explicit tokens win over the preset.
type FIMConfig struct {
	Preset string `toml:"preset" json:"preset"`
	Prefix string `toml:"prefix" json:"prefix"`
	Suffix string `toml:"suffix" json:"suffix"`
	Middle string `toml:"middle" json:"middle"`
}

// TriggerConfig holds auto-trigger settings.
type TriggerConfig struct {
	Auto       *bool `toml:"auto" json:"auto"`
	DebounceMs int   `toml:"debounce_ms" json:"debounce_ms"`
}

// ContextConfig bounds the prefix/suffix window sent to the model.
type ContextConfig struct {
	BeforeLines   int `toml:"before_lines" json:"before_lines"`
	AfterLines    int `toml:"after_lines" json:"after_lines"`
	MaxLineLength int `toml:"max_line_length" json:"max_line_length"`
}

// LangContextConfig controls language-context gathering (LSP results).
type LangContextConfig struct {
	Enabled         *bool `toml:"enabled" json:"enabled"`
	Diagnostics     *bool `toml:"diagnostics" json:"diagnostics"`
	Hover           *bool `toml:"hover" json:"hover"`
	Signature       *bool `toml:"signature" json:"signature"`
	TimeoutMs       int   `toml:"timeout_ms" json:"timeout_ms"`
	CacheTTLMs      int   `toml:"cache_ttl_ms" json:"cache_ttl_ms"`
	RelatedSnippets int   `toml:"related_snippets" json:"related_snippets"`
}

// GenerationConfig holds model generation parameters.
type GenerationConfig struct {
	MaxTokens   int      `toml:"max_tokens" json:"max_tokens"`
	Temperature float64  `toml:"temperature" json:"temperature"`
	Stop        []string `toml:"stop" json:"stop"`
}

// EmbeddingConfig holds settings for the optional snippet-embedding API.
// Related-snippet context is enabled only when both base_url and api_key
// resolve to non-empty values.
type EmbeddingConfig struct {
	BaseURL    string `toml:"base_url" json:"base_url"`
	APIKey     string `toml:"api_key" json:"api_key"`
	Model      string `toml:"model" json:"model"`
	ChunkLines int    `toml:"chunk_lines" json:"chunk_lines"`
}

// FiletypesConfig is the filetype allow/deny surface. Allow supports the
// "*" wildcard; Deny always wins.
type FiletypesConfig struct {
	Allow []string `toml:"allow" json:"allow"`
	Deny  []string `toml:"deny" json:"deny"`
}

// KeymapsConfig carries key-binding names. The daemon never interprets
// them; they are handed back to the editor client on config requests.
type KeymapsConfig struct {
	Accept  string `toml:"accept" json:"accept"`
	Dismiss string `toml:"dismiss" json:"dismiss"`
	Trigger string `toml:"trigger" json:"trigger"`
}

// FIMTokens is a resolved Fill-in-the-Middle token triple. The prompt layout
// is always prefix-token, prefix text, suffix-token, suffix text, middle-token.
type FIMTokens struct {
	Prefix string
	Suffix string
	Middle string
}

// fimPresets maps preset names to the token triples of common FIM-trained
// model families.
var fimPresets = map[string]FIMTokens{
	"qwen":      {Prefix: "<|fim_prefix|>", Suffix: "<|fim_suffix|>", Middle: "<|fim_middle|>"},
	"codegemma": {Prefix: "<|fim_prefix|>", Suffix: "<|fim_suffix|>", Middle: "<|fim_middle|>"},
	"starcoder": {Prefix: "<fim_prefix>", Suffix: "<fim_suffix>", Middle: "<fim_middle>"},
	"codellama": {Prefix: "<PRE> ", Suffix: " <SUF>", Middle: " <MID>"},
	"deepseek":  {Prefix: "<｜fim▁begin｜>", Suffix: "<｜fim▁hole｜>", Middle: "<｜fim▁end｜>"},
}

// FIMPresets returns the known preset names.
func FIMPresets() []string {
	names := make([]string, 0, len(fimPresets))
	for name := range fimPresets {
		names = append(names, name)
	}
	return names
}

// Tokens resolves the FIM token triple from explicit tokens or the preset.
// An unknown or empty preset with no explicit tokens falls back to "qwen".
func (f FIMConfig) Tokens() FIMTokens {
	if f.Prefix != "" || f.Suffix != "" || f.Middle != "" {
		return FIMTokens{Prefix: f.Prefix, Suffix: f.Suffix, Middle: f.Middle}
	}
	if t, ok := fimPresets[f.Preset]; ok {
		return t
	}
	return fimPresets["qwen"]
}

// ConfigDir returns the config directory path.
// Resolution order: $GHOSTLINE_CONFIG_DIR > $XDG_CONFIG_HOME/ghostline > ~/.config/ghostline
func ConfigDir() string {
	if dir := os.Getenv("GHOSTLINE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "ghostline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "ghostline-config")
	}
	return filepath.Join(home, ".config", "ghostline")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded
// default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if err := toml.Unmarshal(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("ghostline: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing fields
	d := DefaultConfig()
	if cfg.Server.Endpoint == "" {
		cfg.Server.Endpoint = d.Server.Endpoint
	}
	if cfg.Server.Model == "" {
		cfg.Server.Model = d.Server.Model
	}
	if cfg.Server.TimeoutMs == 0 {
		cfg.Server.TimeoutMs = d.Server.TimeoutMs
	}
	if cfg.FIM.Preset == "" && cfg.FIM.Prefix == "" && cfg.FIM.Suffix == "" && cfg.FIM.Middle == "" {
		cfg.FIM = d.FIM
	}
	if cfg.Trigger.Auto == nil {
		cfg.Trigger.Auto = d.Trigger.Auto
	}
	if cfg.Trigger.DebounceMs == 0 {
		cfg.Trigger.DebounceMs = d.Trigger.DebounceMs
	}
	if cfg.Context.BeforeLines == 0 {
		cfg.Context.BeforeLines = d.Context.BeforeLines
	}
	if cfg.Context.AfterLines == 0 {
		cfg.Context.AfterLines = d.Context.AfterLines
	}
	if cfg.Context.MaxLineLength == 0 {
		cfg.Context.MaxLineLength = d.Context.MaxLineLength
	}
	if cfg.LangContext.Enabled == nil {
		cfg.LangContext.Enabled = d.LangContext.Enabled
	}
	if cfg.LangContext.Diagnostics == nil {
		cfg.LangContext.Diagnostics = d.LangContext.Diagnostics
	}
	if cfg.LangContext.Hover == nil {
		cfg.LangContext.Hover = d.LangContext.Hover
	}
	if cfg.LangContext.Signature == nil {
		cfg.LangContext.Signature = d.LangContext.Signature
	}
	if cfg.LangContext.TimeoutMs == 0 {
		cfg.LangContext.TimeoutMs = d.LangContext.TimeoutMs
	}
	if cfg.LangContext.CacheTTLMs == 0 {
		cfg.LangContext.CacheTTLMs = d.LangContext.CacheTTLMs
	}
	if cfg.LangContext.RelatedSnippets == 0 {
		cfg.LangContext.RelatedSnippets = d.LangContext.RelatedSnippets
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = d.Generation.MaxTokens
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = d.Generation.Temperature
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = d.Embedding.Model
	}
	if cfg.Embedding.ChunkLines == 0 {
		cfg.Embedding.ChunkLines = d.Embedding.ChunkLines
	}
	if len(cfg.Filetypes.Allow) == 0 {
		cfg.Filetypes.Allow = d.Filetypes.Allow
	}
	if cfg.Filetypes.Deny == nil {
		cfg.Filetypes.Deny = d.Filetypes.Deny
	}
	if cfg.Keymaps.Accept == "" {
		cfg.Keymaps.Accept = d.Keymaps.Accept
	}
	if cfg.Keymaps.Dismiss == "" {
		cfg.Keymaps.Dismiss = d.Keymaps.Dismiss
	}
	if cfg.Keymaps.Trigger == "" {
		cfg.Keymaps.Trigger = d.Keymaps.Trigger
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.FIM.Prefix == "" && cfg.FIM.Suffix == "" && cfg.FIM.Middle == "" {
		if _, ok := fimPresets[cfg.FIM.Preset]; !ok {
			warnings = append(warnings, "unknown fim preset "+cfg.FIM.Preset+"; falling back to qwen tokens")
		}
	}
	if cfg.LangContext.RelatedSnippets > 0 && !EmbeddingEnabled(cfg) {
		warnings = append(warnings, "related_snippets is set but embedding base_url/api_key are not configured; related-snippet context will be unavailable")
	}
	if cfg.Trigger.DebounceMs > 0 && cfg.Trigger.DebounceMs < 50 {
		warnings = append(warnings, "debounce_ms is very low; every keystroke may reach the model server")
	}
	return warnings
}

// FiletypeAllowed reports whether completions may trigger for the given
// filetype. The allow list supports "*"; the deny list always wins.
func (c *Config) FiletypeAllowed(filetype string) bool {
	for _, ft := range c.Filetypes.Deny {
		if ft == filetype {
			return false
		}
	}
	for _, ft := range c.Filetypes.Allow {
		if ft == "*" || ft == filetype {
			return true
		}
	}
	return false
}

// AutoTrigger reports whether auto-triggering is enabled.
func (c *Config) AutoTrigger() bool {
	return c.Trigger.Auto == nil || *c.Trigger.Auto
}

// LangContextEnabled reports whether language-context gathering is on.
func (c *Config) LangContextEnabled() bool {
	return c.LangContext.Enabled == nil || *c.LangContext.Enabled
}

// ResolveEndpoint returns the generation server endpoint.
// Priority: $GHOSTLINE_ENDPOINT env > config value.
func ResolveEndpoint(cfg *Config) string {
	if url := os.Getenv("GHOSTLINE_ENDPOINT"); url != "" {
		return strings.TrimRight(url, "/")
	}
	if cfg != nil {
		return strings.TrimRight(cfg.Server.Endpoint, "/")
	}
	return ""
}

// ResolveModel returns the generation model name.
// Priority: $GHOSTLINE_MODEL env > config value.
func ResolveModel(cfg *Config) string {
	if model := os.Getenv("GHOSTLINE_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Server.Model
	}
	return ""
}

// ResolveEmbeddingBaseURL returns the embedding API base URL.
// Priority: $GHOSTLINE_EMBEDDING_API_BASE_URL env > config value.
func ResolveEmbeddingBaseURL(cfg *Config) string {
	if url := os.Getenv("GHOSTLINE_EMBEDDING_API_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Embedding.BaseURL
	}
	return ""
}

// ResolveEmbeddingAPIKey returns the embedding API key.
// Priority: $GHOSTLINE_EMBEDDING_API_KEY env > config value.
func ResolveEmbeddingAPIKey(cfg *Config) string {
	if key := os.Getenv("GHOSTLINE_EMBEDDING_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Embedding.APIKey
	}
	return ""
}

// ResolveEmbeddingModel returns the embedding model name.
// Priority: $GHOSTLINE_EMBEDDING_MODEL env > config value.
func ResolveEmbeddingModel(cfg *Config) string {
	if model := os.Getenv("GHOSTLINE_EMBEDDING_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Embedding.Model
	}
	return ""
}

// EmbeddingEnabled returns true when both base_url and api_key are configured
// for the embedding API.
func EmbeddingEnabled(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return ResolveEmbeddingBaseURL(cfg) != "" && ResolveEmbeddingAPIKey(cfg) != ""
}
