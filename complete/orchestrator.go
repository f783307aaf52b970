package complete

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	ghostline "github.com/hollowbyte/ghostline"
)

// Orchestrator owns the completion state machine. All mutation of the live
// session is serialized through its mutex; timer fires and transport
// callbacks re-enter through the lock and are validated against the current
// session identity before taking effect, so late callbacks from a
// cancelled or superseded request are discarded.
//
// State transitions: Idle -> Pending -> Streaming -> Showing, with every
// non-Idle state falling back to Idle on cursor movement, dismissal,
// buffer/insert leave, transport error, or a new trigger.
type Orchestrator struct {
	mu sync.Mutex

	cfg       *ghostline.Config
	fim       ghostline.FIMTokens
	transport Transport
	renderer  Renderer
	editor    Editor
	provider  *ContextProvider

	enabled bool
	cur     *session

	// Last observed cursor, used to re-validate a pending trigger when its
	// debounce timer fires.
	lastBuffer int
	lastCursor Position
	haveCursor bool
}

// New creates an orchestrator. The configuration is read-only for the
// orchestrator's lifetime; a config change is applied by building a new
// orchestrator (last writer wins).
func New(cfg *ghostline.Config, transport Transport, renderer Renderer, editor Editor, provider *ContextProvider) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		fim:       cfg.FIM.Tokens(),
		transport: transport,
		renderer:  renderer,
		editor:    editor,
		provider:  provider,
		enabled:   true,
	}
}

// Close tears down the live session and releases provider resources.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.resetLocked()
	o.mu.Unlock()
	if o.provider != nil {
		o.provider.Close()
	}
}

// Trigger starts a new completion session for the given snapshot. Any
// previous session is torn down first (strict replace, never queue). Auto
// triggers wait out the debounce interval; manual triggers fire
// immediately. Ineligible triggers are skipped silently.
func (o *Orchestrator) Trigger(snap BufferSnapshot, manual bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.lastBuffer = snap.Buffer
	o.lastCursor = snap.Cursor
	o.haveCursor = true

	o.resetLocked()

	if !o.eligibleLocked(snap) {
		return
	}
	if !manual && !o.cfg.AutoTrigger() {
		return
	}

	s := newSession(snap)
	o.cur = s

	if manual {
		o.startLocked(s)
		return
	}

	debounce := time.Duration(o.cfg.Trigger.DebounceMs) * time.Millisecond
	id := s.id
	s.timer = time.AfterFunc(debounce, func() { o.fire(id) })
}

// fire is the debounce timer callback. It re-validates eligibility and that
// the cursor has not moved off the anchor before issuing the request.
func (o *Orchestrator) fire(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.cur
	if s == nil || s.id != id || s.status != Pending {
		return
	}
	s.timer = nil

	if !o.eligibleLocked(s.snap) || o.lastBuffer != s.buffer || o.lastCursor != s.anchor {
		o.resetLocked()
		return
	}
	o.startLocked(s)
}

// startLocked moves the session to Streaming and launches the request.
func (o *Orchestrator) startLocked(s *session) {
	s.status = Streaming
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go o.generate(ctx, s.id, s.snap)
}

// generate runs off the lock: it gathers context, builds the prompt, and
// streams the response. Every callback re-enters through the lock with the
// session id so stale work is dropped.
func (o *Orchestrator) generate(ctx context.Context, id uuid.UUID, snap BufferSnapshot) {
	gathered := o.provider.Gather(ctx, snap)
	if ctx.Err() != nil {
		return
	}
	prompt := BuildPrompt(gathered, o.fim)

	err := o.transport.Generate(ctx, prompt, func(token string) {
		o.onToken(id, token)
	})
	o.onDone(id, err)
}

// onToken appends one streamed token and forwards the accumulated text to
// the renderer. Tokens from a superseded session are discarded.
func (o *Orchestrator) onToken(id uuid.UUID, token string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.cur
	if s == nil || s.id != id || s.status != Streaming {
		return
	}
	if o.haveCursor && (o.lastBuffer != s.buffer || o.lastCursor != s.anchor) {
		o.resetLocked()
		return
	}
	s.text.WriteString(token)
	o.renderer.Show(s.buffer, s.anchor, s.text.String())
}

// onDone resolves the terminal stream event. Errors and empty suggestions
// reset to Idle; a non-empty suggestion stays on screen as Showing.
func (o *Orchestrator) onDone(id uuid.UUID, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.cur
	if s == nil || s.id != id || s.status != Streaming {
		return
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Debug("generation aborted", "error", err)
		}
		o.resetLocked()
		return
	}
	if s.text.Len() == 0 {
		o.resetLocked()
		return
	}
	s.status = Showing
	s.cancel = nil
}

// CursorMoved records the new cursor position and tears down the session
// when the cursor leaves the anchor.
func (o *Orchestrator) CursorMoved(buffer int, pos Position) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.lastBuffer = buffer
	o.lastCursor = pos
	o.haveCursor = true

	s := o.cur
	if s == nil {
		return
	}
	if buffer != s.buffer || pos != s.anchor {
		o.resetLocked()
	}
}

// Dismiss cancels the live session and clears the preview.
func (o *Orchestrator) Dismiss() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

// Leave handles buffer-leave and insert-mode-leave: cancel and clear.
func (o *Orchestrator) Leave() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

// Accept splices the accumulated suggestion into the buffer at the anchor.
// It is valid only from Streaming or Showing with non-empty text. State is
// reset to Idle before the splice is handed to the editor, so a second
// call in the same tick observes Idle and no-ops.
func (o *Orchestrator) Accept() bool {
	o.mu.Lock()
	s := o.cur
	if s == nil || (s.status != Streaming && s.status != Showing) || s.text.Len() == 0 {
		o.mu.Unlock()
		return false
	}
	ins := buildInsertion(s.text.String(), s.buffer, s.anchor, s.line)
	o.resetLocked()
	o.mu.Unlock()

	o.editor.Insert(ins)
	return true
}

// IsVisible reports whether a suggestion preview is currently displayed.
func (o *Orchestrator) IsVisible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.cur
	return s != nil && (s.status == Streaming || s.status == Showing) && s.text.Len() > 0
}

// Suggestion returns the accumulated suggestion text, if any is displayed.
func (o *Orchestrator) Suggestion() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.cur
	if s == nil || (s.status != Streaming && s.status != Showing) || s.text.Len() == 0 {
		return "", false
	}
	return s.text.String(), true
}

// Enable turns completion on.
func (o *Orchestrator) Enable() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = true
}

// Disable turns completion off and tears down the live session.
func (o *Orchestrator) Disable() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = false
	o.resetLocked()
}

// Toggle flips the enabled flag and returns the new value.
func (o *Orchestrator) Toggle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = !o.enabled
	if !o.enabled {
		o.resetLocked()
	}
	return o.enabled
}

// IsEnabled reports the global enabled flag.
func (o *Orchestrator) IsEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// State returns a diagnostic snapshot of the orchestrator.
func (o *Orchestrator) State() ghostline.StateInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := ghostline.StateInfo{Status: Idle.String(), Enabled: o.enabled}
	if s := o.cur; s != nil {
		st.Status = s.status.String()
		st.SuggestionLen = s.text.Len()
		st.AnchorLine = s.anchor.Line
		st.AnchorCol = s.anchor.Col
	}
	return st
}

// eligibleLocked implements the trigger eligibility check: enabled flag,
// insert mode, normal file buffer, filetype allowed.
func (o *Orchestrator) eligibleLocked(snap BufferSnapshot) bool {
	if !o.enabled {
		return false
	}
	if snap.Mode != "i" && snap.Mode != "insert" {
		return false
	}
	if snap.Buftype != "" {
		return false
	}
	return o.cfg.FiletypeAllowed(snap.Language)
}

// resetLocked tears down the live session (timer and request) and clears
// the preview. Safe to call when idle.
func (o *Orchestrator) resetLocked() {
	if o.cur == nil {
		return
	}
	o.cur.teardown()
	o.cur = nil
	o.renderer.Clear()
}
