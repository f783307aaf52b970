package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	ghostline "github.com/hollowbyte/ghostline"
	"github.com/hollowbyte/ghostline/complete"
	"github.com/hollowbyte/ghostline/index"
	"github.com/hollowbyte/ghostline/ollama"
)

// commandTimeout bounds the non-hot-path server calls (models, health).
const commandTimeout = 10 * time.Second

// Diagnostics is the setup/diagnostic surface of the transport, used by the
// models and health commands, never by the completion hot path.
type Diagnostics interface {
	ListModels(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
}

// Server listens on a Unix domain socket. Each connection is one editor
// instance and gets its own completion orchestrator; render and insert
// commands are pushed back over the same connection.
type Server struct {
	listener net.Listener
	sockPath string

	mu        sync.Mutex
	cfg       *ghostline.Config
	transport complete.Transport
	diag      Diagnostics
	idx       *index.SnippetIndex
	cachePath string
}

// NewServer creates a server bound to the given socket path, wired to the
// real transport from the loaded configuration.
func NewServer(sockPath string) (*Server, error) {
	cfg, err := ghostline.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = ghostline.DefaultConfig()
	}
	for _, w := range ghostline.ValidateConfig(cfg) {
		slog.Warn("config warning", "warning", w)
	}

	client := ollama.NewClient(cfg)
	srv, err := NewServerWithTransport(sockPath, cfg, client, client)
	if err != nil {
		return nil, err
	}
	srv.setupIndex()
	return srv, nil
}

// NewServerWithTransport creates a server with custom collaborators.
func NewServerWithTransport(sockPath string, cfg *ghostline.Config, transport complete.Transport, diag Diagnostics) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener:  listener,
		sockPath:  sockPath,
		cfg:       cfg,
		transport: transport,
		diag:      diag,
	}, nil
}

// setupIndex builds the snippet index when embedding is configured and
// loads its disk cache.
func (s *Server) setupIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ghostline.EmbeddingEnabled(s.cfg) {
		s.idx = nil
		return
	}

	embedder := index.NewEmbedder(
		ghostline.ResolveEmbeddingBaseURL(s.cfg),
		ghostline.ResolveEmbeddingAPIKey(s.cfg),
		ghostline.ResolveEmbeddingModel(s.cfg),
	)
	s.idx = index.NewSnippetIndex(embedder, s.cfg.Embedding.ChunkLines)
	s.cachePath = filepath.Join(ghostline.ConfigDir(), "embeddings.json")
	if err := s.idx.LoadCache(s.cachePath, embedder.Model()); err != nil {
		slog.Debug("no embedding cache loaded", "error", err)
	}
}

// Serve accepts connections and handles them.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server, persists the snippet index, and removes the
// socket file.
func (s *Server) Close() {
	s.listener.Close()
	os.Remove(s.sockPath)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx != nil {
		if err := s.idx.SaveCache(s.cachePath, s.idx.EmbeddingModel()); err != nil {
			slog.Warn("failed to save embedding cache", "error", err)
		}
		s.idx.Close()
	}
}

func (s *Server) collaborators() (*ghostline.Config, complete.Transport, *index.SnippetIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.transport, s.idx
}

// reload re-reads the config and swaps the transport and index wholesale.
// Last writer wins; existing connections pick the new engine up on their
// next rebuild.
func (s *Server) reload() *ghostline.Config {
	cfg, err := ghostline.LoadConfig()
	if err != nil {
		slog.Warn("config reload failed, keeping previous", "error", err)
		s.mu.Lock()
		cfg = s.cfg
		s.mu.Unlock()
		return cfg
	}
	for _, w := range ghostline.ValidateConfig(cfg) {
		slog.Warn("config warning", "warning", w)
	}

	client := ollama.NewClient(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.transport = client
	s.diag = client
	s.mu.Unlock()
	s.setupIndex()

	slog.Info("engine reloaded")
	return cfg
}

// handleConn runs the per-editor event loop until the connection closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	w := &connWriter{conn: conn}
	src := &eventLangSource{}

	cfg, transport, idx := s.collaborators()
	orc := buildOrchestrator(cfg, transport, idx, w, src)
	defer func() { orc.Close() }()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		slog.Debug("event", "data", string(raw))

		var ev ghostline.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			slog.Warn("invalid event", "error", err)
			continue
		}

		switch ev.Type {
		case ghostline.EventTrigger:
			src.set(&ev)
			orc.Trigger(snapshotFromEvent(&ev), ev.Manual)

		case ghostline.EventCursor:
			orc.CursorMoved(ev.Buffer, complete.Position{Line: ev.Line, Col: ev.Col})

		case ghostline.EventAccept:
			ok := orc.Accept()
			w.send(ghostline.Command{Type: ghostline.CommandAccept, OK: ok})

		case ghostline.EventDismiss:
			orc.Dismiss()

		case ghostline.EventLeave:
			orc.Leave()

		case ghostline.EventEnable:
			orc.Enable()

		case ghostline.EventDisable:
			orc.Disable()

		case ghostline.EventToggle:
			orc.Toggle()

		case ghostline.EventStatus:
			st := orc.State()
			w.send(ghostline.Command{Type: ghostline.CommandStatus, State: &st})

		case ghostline.EventModels:
			s.handleModels(w)

		case ghostline.EventHealth:
			s.handleHealth(w)

		case ghostline.EventConfig:
			if rebuilt := s.handleConfig(w, &ev); rebuilt {
				orc.Close()
				cfg, transport, idx = s.collaborators()
				orc = buildOrchestrator(cfg, transport, idx, w, src)
			}

		case ghostline.EventSync:
			s.handleSync(&ev)

		default:
			slog.Warn("unknown event type", "type", ev.Type)
		}
	}
}

// buildOrchestrator wires a per-connection orchestrator: the connection is
// both the renderer and the editor, and language context comes from the
// latest trigger payload.
func buildOrchestrator(cfg *ghostline.Config, transport complete.Transport, idx *index.SnippetIndex, w *connWriter, src *eventLangSource) *complete.Orchestrator {
	var related complete.RelatedSource
	if idx != nil {
		related = idx
	}
	provider := complete.NewContextProvider(cfg, src, related)
	return complete.New(cfg, transport, w, w, provider)
}

func (s *Server) handleModels(w *connWriter) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	s.mu.Lock()
	diag := s.diag
	s.mu.Unlock()

	names, err := diag.ListModels(ctx)
	cmd := ghostline.Command{Type: ghostline.CommandModels, Models: names}
	if err != nil {
		cmd.Error = &ghostline.Error{Code: "api_error", Message: err.Error()}
	}
	w.send(cmd)
}

func (s *Server) handleHealth(w *connWriter) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	s.mu.Lock()
	diag := s.diag
	s.mu.Unlock()

	cmd := ghostline.Command{Type: ghostline.CommandHealth, OK: true}
	if err := diag.Health(ctx); err != nil {
		cmd.OK = false
		cmd.Error = &ghostline.Error{Code: "unreachable", Message: err.Error()}
	}
	w.send(cmd)
}

// handleConfig answers config actions. It reports whether the caller's
// orchestrator must be rebuilt against a reloaded engine.
func (s *Server) handleConfig(w *connWriter, ev *ghostline.Event) bool {
	var cmd ghostline.Command
	cmd.Type = ghostline.CommandConfig
	rebuilt := false

	switch ev.Action {
	case "get":
		s.mu.Lock()
		cmd.Config = s.cfg
		s.mu.Unlock()

	case "reload":
		cmd.Config = s.reload()
		rebuilt = true

	case "defaults":
		cmd.Config = ghostline.DefaultConfig()

	case "validate":
		cfg, err := ghostline.LoadConfig()
		if err != nil {
			cmd.Error = &ghostline.Error{Code: "config_error", Message: err.Error()}
		} else {
			cmd.Warnings = ghostline.ValidateConfig(cfg)
		}

	default:
		cmd.Error = &ghostline.Error{Code: "unknown_action", Message: "unknown config action: " + ev.Action}
	}

	w.send(cmd)
	return rebuilt
}

// handleSync feeds buffer content to the snippet index in the background.
func (s *Server) handleSync(ev *ghostline.Event) {
	s.mu.Lock()
	idx := s.idx
	s.mu.Unlock()
	if idx == nil || len(ev.Lines) == 0 {
		return
	}

	name := ev.Name
	lines := ev.Lines
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := idx.IndexBuffer(ctx, name, lines); err != nil {
			slog.Warn("buffer indexing failed", "buffer", name, "error", err)
		}
	}()
}

// snapshotFromEvent converts a trigger event into the immutable buffer
// snapshot the session captures.
func snapshotFromEvent(ev *ghostline.Event) complete.BufferSnapshot {
	return complete.BufferSnapshot{
		Buffer:        ev.Buffer,
		Name:          ev.Name,
		Language:      ev.Filetype,
		Buftype:       ev.Buftype,
		Mode:          ev.Mode,
		Cursor:        complete.Position{Line: ev.Line, Col: ev.Col},
		CurrentLine:   ev.CurrentLine,
		Before:        ev.Before,
		After:         ev.After,
		CommentPrefix: ev.CommentPrefix,
	}
}

// connWriter serializes outbound commands onto the connection, one JSON
// object per line. It doubles as the orchestrator's renderer and editor.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) send(cmd ghostline.Command) {
	data, err := json.Marshal(cmd)
	if err != nil {
		slog.Error("failed to marshal command", "error", err)
		return
	}
	slog.Debug("command", "data", string(data))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.Write(append(data, '\n'))
}

// Show implements complete.Renderer.
func (w *connWriter) Show(buffer int, at complete.Position, text string) {
	w.send(ghostline.Command{
		Type:   ghostline.CommandRender,
		Buffer: buffer,
		Line:   at.Line,
		Col:    at.Col,
		Text:   text,
	})
}

// Clear implements complete.Renderer.
func (w *connWriter) Clear() {
	w.send(ghostline.Command{Type: ghostline.CommandClear})
}

// Insert implements complete.Editor. The editor client applies the splice
// at its next safe scheduling point.
func (w *connWriter) Insert(ins complete.Insertion) {
	w.send(ghostline.Command{
		Type:       ghostline.CommandInsert,
		Buffer:     ins.Buffer,
		Line:       ins.Line,
		Lines:      ins.Lines,
		CursorLine: ins.Cursor.Line,
		CursorCol:  ins.Cursor.Col,
	})
}

// eventLangSource exposes the language-context payload of the most recent
// trigger event as a LangSource. The editor collects LSP results and ships
// them with the trigger; queries here never block.
type eventLangSource struct {
	mu          sync.Mutex
	buffer      int
	diagnostics []ghostline.Diagnostic
	hover       string
	signature   *ghostline.Signature
}

func (src *eventLangSource) set(ev *ghostline.Event) {
	src.mu.Lock()
	defer src.mu.Unlock()
	src.buffer = ev.Buffer
	src.diagnostics = ev.Diagnostics
	src.hover = ev.Hover
	src.signature = ev.Signature
}

func (src *eventLangSource) Diagnostics(_ context.Context, buffer int, _ complete.Position) ([]complete.Diagnostic, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if buffer != src.buffer {
		return nil, nil
	}
	out := make([]complete.Diagnostic, 0, len(src.diagnostics))
	for _, d := range src.diagnostics {
		out = append(out, complete.Diagnostic{Line: d.Line, Message: d.Message})
	}
	return out, nil
}

func (src *eventLangSource) Hover(_ context.Context, buffer int, _ complete.Position) (string, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if buffer != src.buffer {
		return "", nil
	}
	return src.hover, nil
}

func (src *eventLangSource) SignatureHelp(_ context.Context, buffer int, _ complete.Position) (*complete.SignatureInfo, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if buffer != src.buffer || src.signature == nil {
		return nil, nil
	}
	return &complete.SignatureInfo{
		Label:              src.signature.Label,
		ActiveParameterDoc: src.signature.ActiveParameterDoc,
	}, nil
}
