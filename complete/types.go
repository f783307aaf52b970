// Package complete implements the completion orchestration core: the
// session state machine, context gathering, and FIM prompt construction.
package complete

import (
	"context"
)

// Status is the state of the live completion session.
type Status int

const (
	// Idle means no session is live.
	Idle Status = iota
	// Pending means a session is waiting for its debounce timer.
	Pending
	// Streaming means a generation request is in flight and tokens are
	// being accumulated.
	Streaming
	// Showing means the stream completed and the final suggestion is on
	// screen awaiting accept or dismissal.
	Showing
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Showing:
		return "showing"
	default:
		return "idle"
	}
}

// Position is a 0-based (line, column) buffer coordinate. Column is a byte
// offset into the line.
type Position struct {
	Line int
	Col  int
}

// Diagnostic is one editor diagnostic, carried into language context.
type Diagnostic struct {
	Line    int
	Message string
}

// SignatureInfo is the active signature-help result.
type SignatureInfo struct {
	Label              string
	ActiveParameterDoc string
}

// BufferSnapshot captures the editor state delivered with a trigger. It is
// immutable once captured; the session holds it for the lifetime of the
// request.
type BufferSnapshot struct {
	Buffer   int
	Name     string
	Language string
	Buftype  string
	Mode     string
	Cursor   Position

	// CurrentLine is the cursor line's content; Before and After are the
	// raw line windows around it, clipped later by the context provider.
	CurrentLine string
	Before      []string
	After       []string

	// CommentPrefix optionally overrides the comment-syntax table.
	CommentPrefix string
}

// Transport issues a streaming generation request. At most one is logically
// active per orchestrator; issuing a new one invalidates the previous one
// from the orchestrator's perspective. Implementations must deliver tokens
// in arrival order and return nil once the stream reports done.
type Transport interface {
	Generate(ctx context.Context, prompt string, onToken func(token string)) error
}

// Renderer displays the inline suggestion preview. It is driven only by
// orchestrator calls and owns its overlay state.
type Renderer interface {
	// Show displays or updates the preview anchored at the given position.
	Show(buffer int, at Position, text string)
	// Clear removes the preview if one is displayed. Safe to call when
	// nothing is shown.
	Clear()
}

// Insertion is the buffer splice produced by an accepted suggestion: the
// anchor line is replaced by Lines and the cursor moves to Cursor.
type Insertion struct {
	Buffer int
	Line   int
	Lines  []string
	Cursor Position
}

// Editor applies accepted suggestions to the real buffer. Implementations
// may defer the splice to the next safe scheduling point.
type Editor interface {
	Insert(ins Insertion)
}

// LangSource answers language-context queries (LSP results). All methods
// must treat "nothing known" as an empty result, not an error; errors are
// logged and swallowed by the provider.
type LangSource interface {
	Diagnostics(ctx context.Context, buffer int, pos Position) ([]Diagnostic, error)
	Hover(ctx context.Context, buffer int, pos Position) (string, error)
	SignatureHelp(ctx context.Context, buffer int, pos Position) (*SignatureInfo, error)
}

// RelatedSource retrieves semantically related code snippets for extra
// prompt context. Optional; a nil source disables the feature.
type RelatedSource interface {
	SearchRelevant(ctx context.Context, query string, topK int) ([]string, error)
}
