// Package ghostline defines the wire types and configuration for the
// ghostline daemon. An editor client keeps one long-lived connection to the
// daemon and sends Events, JSON-encoded one per line; the daemon pushes
// Commands back over the same connection in the same framing.
package ghostline

// Event types sent by the editor client.
const (
	EventTrigger = "trigger"
	EventCursor  = "cursor"
	EventAccept  = "accept"
	EventDismiss = "dismiss"
	EventLeave   = "leave"
	EventEnable  = "enable"
	EventDisable = "disable"
	EventToggle  = "toggle"
	EventStatus  = "status"
	EventModels  = "models"
	EventHealth  = "health"
	EventConfig  = "config"
	EventSync    = "sync"
)

// Command types pushed by the daemon.
const (
	CommandRender = "render"
	CommandClear  = "clear"
	CommandInsert = "insert"
	CommandStatus = "status"
	CommandModels = "models"
	CommandHealth = "health"
	CommandConfig = "config"
	CommandAccept = "accept"
)

// Event is sent from the editor client to the daemon.
// Only the fields relevant to the given Type are populated.
type Event struct {
	Type string `json:"type"`

	// Manual marks an explicitly requested trigger that bypasses debouncing.
	Manual bool `json:"manual,omitempty"`

	// Buffer identifies the text buffer the event applies to.
	Buffer int `json:"buffer,omitempty"`
	// Name is the buffer's file name (may be empty for unnamed buffers).
	Name string `json:"name,omitempty"`
	// Filetype is the editor's language tag for the buffer (e.g. "go", "python").
	Filetype string `json:"filetype,omitempty"`
	// Buftype is empty for normal file buffers; special buffers (scratch,
	// prompt, quickfix) carry a non-empty value and are never completed.
	Buftype string `json:"buftype,omitempty"`
	// Mode is the editor mode at event time ("insert" enables triggering).
	Mode string `json:"mode,omitempty"`

	// Line and Col are the 0-based cursor position. Col is a byte offset
	// into the current line.
	Line int `json:"line"`
	Col  int `json:"col"`

	// CurrentLine is the content of the cursor line.
	CurrentLine string `json:"current_line,omitempty"`
	// Before and After are the raw line windows around the cursor line.
	// The daemon clips them to the configured context limits.
	Before []string `json:"before,omitempty"`
	After  []string `json:"after,omitempty"`

	// CommentPrefix optionally overrides the daemon's comment-syntax table
	// with the editor's own commentstring for this buffer.
	CommentPrefix string `json:"comment_prefix,omitempty"`

	// Language-context payload collected by the editor (LSP results).
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Hover       string       `json:"hover,omitempty"`
	Signature   *Signature   `json:"signature,omitempty"`

	// Lines carries full buffer content for "sync" events (snippet indexing).
	Lines []string `json:"lines,omitempty"`

	// Action selects the config operation: "get", "reload", "defaults", or
	// "validate".
	Action string `json:"action,omitempty"`
}

// Diagnostic is one editor diagnostic near the cursor.
type Diagnostic struct {
	// Line is the 0-based line the diagnostic is attached to.
	Line int `json:"line"`
	// Message is the diagnostic text.
	Message string `json:"message"`
}

// Signature describes the active signature-help result.
type Signature struct {
	// Label is the active signature's label.
	Label string `json:"label"`
	// ActiveParameterDoc is the documentation of the active parameter, if any.
	ActiveParameterDoc string `json:"active_parameter_doc,omitempty"`
}

// Command is sent from the daemon back to the editor client.
type Command struct {
	Type string `json:"type"`

	// render / insert target
	Buffer int `json:"buffer,omitempty"`
	Line   int `json:"line"`
	Col    int `json:"col"`

	// Text is the suggestion text for "render" commands.
	Text string `json:"text,omitempty"`

	// Lines is the fragment sequence replacing the anchor line on "insert".
	Lines []string `json:"lines,omitempty"`
	// CursorLine and CursorCol are the final cursor position after an insert.
	CursorLine int `json:"cursor_line,omitempty"`
	CursorCol  int `json:"cursor_col,omitempty"`

	// State is the orchestrator snapshot for "status" replies.
	State *StateInfo `json:"state,omitempty"`

	// Models is the model name list for "models" replies.
	Models []string `json:"models,omitempty"`

	// OK reports success for "health" and "accept" replies.
	OK bool `json:"ok,omitempty"`

	// Config and Warnings answer "config" requests.
	Config   *Config  `json:"config,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// Error is set when the daemon cannot fulfill the request.
	Error *Error `json:"error,omitempty"`
}

// StateInfo is a diagnostic snapshot of the orchestrator.
type StateInfo struct {
	// Status is the session state: "idle", "pending", "streaming", or "showing".
	Status string `json:"status"`
	// SuggestionLen is the accumulated suggestion length in bytes.
	SuggestionLen int `json:"suggestion_len"`
	// AnchorLine and AnchorCol are the live session's anchor, if any.
	AnchorLine int `json:"anchor_line"`
	AnchorCol  int `json:"anchor_col"`
	// Enabled reports the global enabled flag.
	Enabled bool `json:"enabled"`
}

// Error describes a daemon-side error returned to the editor client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "config_error").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}
