package ghostline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Endpoint != "http://127.0.0.1:11434" {
		t.Errorf("unexpected default endpoint %q", cfg.Server.Endpoint)
	}
	if cfg.Server.Model == "" {
		t.Error("expected non-empty default model")
	}
	if cfg.Trigger.DebounceMs <= 0 {
		t.Errorf("expected positive debounce, got %d", cfg.Trigger.DebounceMs)
	}
	if !cfg.AutoTrigger() {
		t.Error("expected auto trigger on by default")
	}
	if cfg.Context.BeforeLines <= 0 || cfg.Context.AfterLines <= 0 {
		t.Error("expected positive context window defaults")
	}
	if cfg.Generation.MaxTokens <= 0 {
		t.Error("expected positive max_tokens default")
	}
}

func TestFIMTokensExplicitWinOverPreset(t *testing.T) {
	f := FIMConfig{
		Preset: "starcoder",
		Prefix: "<P>",
		Suffix: "<S>",
		Middle: "<M>",
	}
	got := f.Tokens()
	if got.Prefix != "<P>" || got.Suffix != "<S>" || got.Middle != "<M>" {
		t.Errorf("expected explicit tokens to win, got %+v", got)
	}
}

func TestFIMTokensPresets(t *testing.T) {
	got := FIMConfig{Preset: "starcoder"}.Tokens()
	if got.Prefix != "<fim_prefix>" {
		t.Errorf("unexpected starcoder prefix %q", got.Prefix)
	}

	// Unknown preset falls back to qwen tokens.
	fallback := FIMConfig{Preset: "no-such-model"}.Tokens()
	if fallback != (FIMConfig{Preset: "qwen"}.Tokens()) {
		t.Errorf("expected qwen fallback, got %+v", fallback)
	}
}

func TestFiletypeAllowed(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.FiletypeAllowed("go") {
		t.Error("expected go allowed by wildcard")
	}
	if cfg.FiletypeAllowed("markdown") {
		t.Error("expected markdown denied by default")
	}

	cfg.Filetypes.Allow = []string{"go", "rust"}
	cfg.Filetypes.Deny = []string{"rust"}
	if !cfg.FiletypeAllowed("go") {
		t.Error("expected go in explicit allow list")
	}
	if cfg.FiletypeAllowed("rust") {
		t.Error("expected deny to win over allow")
	}
	if cfg.FiletypeAllowed("python") {
		t.Error("expected python excluded without wildcard")
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GHOSTLINE_CONFIG_DIR", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Endpoint != DefaultConfig().Server.Endpoint {
		t.Errorf("expected default endpoint, got %q", cfg.Server.Endpoint)
	}
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GHOSTLINE_CONFIG_DIR", dir)

	partial := `
[server]
model = "starcoder2:3b"

[trigger]
debounce_ms = 150
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Model != "starcoder2:3b" {
		t.Errorf("expected model from file, got %q", cfg.Server.Model)
	}
	if cfg.Trigger.DebounceMs != 150 {
		t.Errorf("expected debounce from file, got %d", cfg.Trigger.DebounceMs)
	}
	// Unspecified fields fall back to defaults.
	if cfg.Server.Endpoint != DefaultConfig().Server.Endpoint {
		t.Errorf("expected default endpoint merged in, got %q", cfg.Server.Endpoint)
	}
	if cfg.Context.BeforeLines != DefaultConfig().Context.BeforeLines {
		t.Errorf("expected default before_lines merged in, got %d", cfg.Context.BeforeLines)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GHOSTLINE_CONFIG_DIR", dir)

	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not [valid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestResolveEndpointEnvOverride(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv("GHOSTLINE_ENDPOINT", "http://example.test:11434/")
	if got := ResolveEndpoint(cfg); got != "http://example.test:11434" {
		t.Errorf("expected trimmed env endpoint, got %q", got)
	}

	t.Setenv("GHOSTLINE_ENDPOINT", "")
	if got := ResolveEndpoint(cfg); got != cfg.Server.Endpoint {
		t.Errorf("expected config endpoint, got %q", got)
	}
}

func TestResolveModelEnvOverride(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv("GHOSTLINE_MODEL", "deepseek-coder:6.7b-base")
	if got := ResolveModel(cfg); got != "deepseek-coder:6.7b-base" {
		t.Errorf("expected env model, got %q", got)
	}

	t.Setenv("GHOSTLINE_MODEL", "")
	if got := ResolveModel(cfg); got != cfg.Server.Model {
		t.Errorf("expected config model, got %q", got)
	}
}

func TestEmbeddingEnabled(t *testing.T) {
	t.Setenv("GHOSTLINE_EMBEDDING_API_BASE_URL", "")
	t.Setenv("GHOSTLINE_EMBEDDING_API_KEY", "")

	cfg := DefaultConfig()
	if EmbeddingEnabled(cfg) {
		t.Error("expected embedding disabled without base_url/api_key")
	}

	cfg.Embedding.BaseURL = "https://api.example.test/v1"
	cfg.Embedding.APIKey = "sk-test"
	if !EmbeddingEnabled(cfg) {
		t.Error("expected embedding enabled with both values set")
	}
}

func TestValidateConfigWarnings(t *testing.T) {
	t.Setenv("GHOSTLINE_EMBEDDING_API_BASE_URL", "")
	t.Setenv("GHOSTLINE_EMBEDDING_API_KEY", "")

	cfg := DefaultConfig()
	cfg.FIM.Preset = "mystery"
	cfg.Trigger.DebounceMs = 10
	cfg.LangContext.RelatedSnippets = 3

	warnings := ValidateConfig(cfg)
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(warnings), warnings)
	}

	joined := strings.Join(warnings, "\n")
	for _, want := range []string{"fim preset", "related_snippets", "debounce_ms"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected a warning mentioning %q, got %v", want, warnings)
		}
	}
}

func TestConfigDirResolution(t *testing.T) {
	t.Setenv("GHOSTLINE_CONFIG_DIR", "/custom/dir")
	if got := ConfigDir(); got != "/custom/dir" {
		t.Errorf("expected explicit dir, got %q", got)
	}

	t.Setenv("GHOSTLINE_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ConfigDir(); got != filepath.Join("/xdg", "ghostline") {
		t.Errorf("expected XDG dir, got %q", got)
	}
}
