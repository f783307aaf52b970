package complete

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	ghostline "github.com/hollowbyte/ghostline"
)

// diagWindow is the maximum line distance for off-line diagnostics.
const diagWindow = 4

// relatedQueryBytes caps the prefix tail used as the related-snippet query.
const relatedQueryBytes = 400

// ContextProvider turns a buffer snapshot into the prefix/suffix text and
// optional language-context lines a prompt is built from. Language-context
// lookups are cached per buffer+exact-position with a TTL and always fail
// soft: an unavailable capability, a timeout, or an empty result yields an
// absent value, never an error that blocks prompt construction.
type ContextProvider struct {
	cfg     *ghostline.Config
	source  LangSource
	related RelatedSource
	cache   *ttlcache.Cache[string, string]
}

// NewContextProvider creates a provider. source and related may be nil to
// disable language context and related-snippet retrieval respectively.
func NewContextProvider(cfg *ghostline.Config, source LangSource, related RelatedSource) *ContextProvider {
	ttl := time.Duration(cfg.LangContext.CacheTTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()
	return &ContextProvider{cfg: cfg, source: source, related: related, cache: c}
}

// Close stops the cache expiration loop.
func (p *ContextProvider) Close() {
	p.cache.Stop()
}

// Gather produces a fresh context snapshot for one trigger.
func (p *ContextProvider) Gather(ctx context.Context, snap BufferSnapshot) Snapshot {
	out := Snapshot{
		Name:          snap.Name,
		Language:      snap.Language,
		CommentPrefix: snap.CommentPrefix,
	}
	out.Prefix = p.clipPrefix(snap)
	out.Suffix = p.clipSuffix(snap)

	if p.source != nil && p.cfg.LangContextEnabled() {
		timeout := time.Duration(p.cfg.LangContext.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 150 * time.Millisecond
		}
		if enabled(p.cfg.LangContext.Diagnostics) {
			out.Context = append(out.Context, p.diagnostics(ctx, timeout, snap)...)
		}
		if enabled(p.cfg.LangContext.Hover) {
			if h := p.hover(ctx, timeout, snap); h != "" {
				out.Context = append(out.Context, h)
			}
		}
		if enabled(p.cfg.LangContext.Signature) {
			if s := p.signature(ctx, timeout, snap); s != "" {
				out.Context = append(out.Context, s)
			}
		}
	}

	if p.related != nil && p.cfg.LangContext.RelatedSnippets > 0 {
		out.Context = append(out.Context, p.relatedSnippets(ctx, out.Prefix)...)
	}

	return out
}

func enabled(b *bool) bool { return b == nil || *b }

// clipPrefix returns up to before_lines lines before the cursor, each
// truncated to max_line_length, with the cursor line cut at the cursor
// column.
func (p *ContextProvider) clipPrefix(snap BufferSnapshot) string {
	maxLines := p.cfg.Context.BeforeLines
	maxLen := p.cfg.Context.MaxLineLength

	before := snap.Before
	if maxLines > 0 && len(before) > maxLines {
		before = before[len(before)-maxLines:]
	}

	var sb strings.Builder
	for _, line := range before {
		sb.WriteString(truncate(line, maxLen))
		sb.WriteString("\n")
	}

	col := snap.Cursor.Col
	if col > len(snap.CurrentLine) {
		col = len(snap.CurrentLine)
	}
	sb.WriteString(snap.CurrentLine[:col])
	return sb.String()
}

// clipSuffix returns the cursor line starting after the cursor column plus
// up to after_lines following lines, each truncated to max_line_length.
func (p *ContextProvider) clipSuffix(snap BufferSnapshot) string {
	maxLines := p.cfg.Context.AfterLines
	maxLen := p.cfg.Context.MaxLineLength

	after := snap.After
	if maxLines > 0 && len(after) > maxLines {
		after = after[:maxLines]
	}

	col := snap.Cursor.Col
	if col > len(snap.CurrentLine) {
		col = len(snap.CurrentLine)
	}

	var sb strings.Builder
	sb.WriteString(snap.CurrentLine[col:])
	for _, line := range after {
		sb.WriteString("\n")
		sb.WriteString(truncate(line, maxLen))
	}
	return sb.String()
}

// diagnostics returns formatted diagnostic lines near the cursor: same-line
// diagnostics when present, otherwise those within diagWindow lines,
// de-duplicated by message.
func (p *ContextProvider) diagnostics(ctx context.Context, timeout time.Duration, snap BufferSnapshot) []string {
	key := fmt.Sprintf("d:%d:%d:%d", snap.Buffer, snap.Cursor.Line, snap.Cursor.Col)
	if item := p.cache.Get(key); item != nil {
		return splitCached(item.Value())
	}

	diags, err := queryLang(ctx, timeout, func(ctx context.Context) ([]Diagnostic, error) {
		return p.source.Diagnostics(ctx, snap.Buffer, snap.Cursor)
	})
	if err != nil {
		slog.Debug("diagnostics lookup failed", "error", err)
		return nil
	}

	var sameLine, near []Diagnostic
	for _, d := range diags {
		dist := d.Line - snap.Cursor.Line
		if dist < 0 {
			dist = -dist
		}
		switch {
		case dist == 0:
			sameLine = append(sameLine, d)
		case dist <= diagWindow:
			near = append(near, d)
		}
	}
	picked := sameLine
	if len(picked) == 0 {
		picked = near
	}

	seen := make(map[string]bool, len(picked))
	var lines []string
	for _, d := range picked {
		msg := singleLine(d.Message)
		if msg == "" || seen[msg] {
			continue
		}
		seen[msg] = true
		lines = append(lines, "diagnostic: "+truncate(msg, p.cfg.Context.MaxLineLength))
	}

	p.cache.Set(key, joinCached(lines), ttlcache.DefaultTTL)
	return lines
}

// hover returns the first hover result as one comment line, with code-fence
// markers stripped.
func (p *ContextProvider) hover(ctx context.Context, timeout time.Duration, snap BufferSnapshot) string {
	key := fmt.Sprintf("h:%d:%d:%d", snap.Buffer, snap.Cursor.Line, snap.Cursor.Col)
	if item := p.cache.Get(key); item != nil {
		return item.Value()
	}

	text, err := queryLang(ctx, timeout, func(ctx context.Context) (string, error) {
		return p.source.Hover(ctx, snap.Buffer, snap.Cursor)
	})
	if err != nil {
		slog.Debug("hover lookup failed", "error", err)
		return ""
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	joined := singleLine(strings.Join(kept, " "))

	var result string
	if joined != "" {
		result = "hover: " + truncate(joined, p.cfg.Context.MaxLineLength)
	}
	p.cache.Set(key, result, ttlcache.DefaultTTL)
	return result
}

// signature returns the active signature as one comment line, with the
// active parameter's documentation appended.
func (p *ContextProvider) signature(ctx context.Context, timeout time.Duration, snap BufferSnapshot) string {
	key := fmt.Sprintf("s:%d:%d:%d", snap.Buffer, snap.Cursor.Line, snap.Cursor.Col)
	if item := p.cache.Get(key); item != nil {
		return item.Value()
	}

	sig, err := queryLang(ctx, timeout, func(ctx context.Context) (*SignatureInfo, error) {
		return p.source.SignatureHelp(ctx, snap.Buffer, snap.Cursor)
	})
	if err != nil {
		slog.Debug("signature lookup failed", "error", err)
		return ""
	}

	var result string
	if sig != nil && sig.Label != "" {
		result = sig.Label
		if sig.ActiveParameterDoc != "" {
			result += "; " + sig.ActiveParameterDoc
		}
		result = "signature: " + truncate(singleLine(result), p.cfg.Context.MaxLineLength)
	}
	p.cache.Set(key, result, ttlcache.DefaultTTL)
	return result
}

// relatedSnippets retrieves semantically related snippets for the prefix
// tail. Failures and empty results are silent.
func (p *ContextProvider) relatedSnippets(ctx context.Context, prefix string) []string {
	query := prefix
	if len(query) > relatedQueryBytes {
		query = query[len(query)-relatedQueryBytes:]
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	snippets, err := p.related.SearchRelevant(ctx, query, p.cfg.LangContext.RelatedSnippets)
	if err != nil {
		slog.Debug("related snippet search failed", "error", err)
		return nil
	}

	var lines []string
	for _, s := range snippets {
		s = singleLine(s)
		if s == "" {
			continue
		}
		lines = append(lines, "related: "+truncate(s, p.cfg.Context.MaxLineLength))
	}
	return lines
}

// queryLang runs one language-context lookup with its own timeout. A source
// that ignores cancellation only leaks its goroutine until it returns.
func queryLang[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := fn(ctx)
		ch <- result{val, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// joinCached and splitCached pack multi-line cache values; the unit
// separator never occurs in diagnostic text.
func joinCached(lines []string) string { return strings.Join(lines, "\x1f") }

func splitCached(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x1f")
}

// singleLine collapses whitespace runs (including newlines) into single
// spaces.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate truncates s to maxBytes, appending "..." if truncated. A
// non-positive maxBytes disables truncation.
func truncate(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "..."
}
