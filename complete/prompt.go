package complete

import (
	"strings"

	ghostline "github.com/hollowbyte/ghostline"
)

// Snapshot is the gathered context a prompt is built from.
type Snapshot struct {
	Prefix   string
	Suffix   string
	Name     string
	Language string
	// CommentPrefix overrides the comment table when non-empty.
	CommentPrefix string
	// Context holds formatted language-context lines (diagnostics, hover,
	// signature, related snippets), one entry per comment line.
	Context []string
}

// commentPrefixes maps language tags to line-comment syntax. Unknown
// languages fall back to "//".
var commentPrefixes = map[string]string{
	"go":         "//",
	"c":          "//",
	"cpp":        "//",
	"objc":       "//",
	"java":       "//",
	"javascript": "//",
	"typescript": "//",
	"rust":       "//",
	"zig":        "//",
	"kotlin":     "//",
	"swift":      "//",
	"scala":      "//",
	"php":        "//",
	"cs":         "//",
	"python":     "#",
	"ruby":       "#",
	"perl":       "#",
	"sh":         "#",
	"bash":       "#",
	"zsh":        "#",
	"fish":       "#",
	"make":       "#",
	"yaml":       "#",
	"toml":       "#",
	"dockerfile": "#",
	"r":          "#",
	"elixir":     "#",
	"julia":      "#",
	"lua":        "--",
	"sql":        "--",
	"haskell":    "--",
	"elm":        "--",
	"vim":        "\"",
	"erlang":     "%",
	"tex":        "%",
	"lisp":       ";;",
	"clojure":    ";;",
	"scheme":     ";;",
}

// commentPrefix resolves the line-comment syntax for a language tag. An
// editor-supplied override wins.
func commentPrefix(language, override string) string {
	if override != "" {
		return strings.TrimSpace(override)
	}
	if p, ok := commentPrefixes[language]; ok {
		return p
	}
	return "//"
}

// BuildPrompt assembles the FIM prompt. The prefix segment opens with an
// optional file-identity comment line and a language-context comment block,
// so all metadata stays inside the token frame. When the snapshot carries no
// metadata the output is exactly prefixTok + prefix + suffixTok + suffix +
// middleTok.
func BuildPrompt(snap Snapshot, fim ghostline.FIMTokens) string {
	var sb strings.Builder
	cp := commentPrefix(snap.Language, snap.CommentPrefix)

	sb.WriteString(fim.Prefix)
	if snap.Name != "" {
		sb.WriteString(cp)
		sb.WriteString(" ")
		sb.WriteString(snap.Name)
		sb.WriteString("\n")
	}
	for _, line := range snap.Context {
		sb.WriteString(cp)
		sb.WriteString(" ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString(snap.Prefix)
	sb.WriteString(fim.Suffix)
	sb.WriteString(snap.Suffix)
	sb.WriteString(fim.Middle)
	return sb.String()
}
