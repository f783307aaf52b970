package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	ghostline "github.com/hollowbyte/ghostline"
)

// stubTransport streams a fixed token sequence for every request.
type stubTransport struct {
	tokens []string
	models []string
}

func (s *stubTransport) Generate(_ context.Context, _ string, onToken func(string)) error {
	for _, tok := range s.tokens {
		onToken(tok)
	}
	return nil
}

func (s *stubTransport) ListModels(_ context.Context) ([]string, error) {
	return s.models, nil
}

func (s *stubTransport) Health(_ context.Context) error {
	return nil
}

var testSocketCounter atomic.Int64

func newTestServer(t *testing.T, stub *stubTransport) *Server {
	t.Helper()
	// Use /tmp directly to avoid macOS 104-char Unix socket path limit
	n := testSocketCounter.Add(1)
	sockPath := fmt.Sprintf("/tmp/ghostline-t%d.sock", n)

	cfg := ghostline.DefaultConfig()
	srv, err := NewServerWithTransport(sockPath, cfg, stub, stub)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)
	go srv.Serve()
	return srv
}

type testConn struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
}

func dialTestServer(t *testing.T, srv *Server) *testConn {
	t.Helper()
	conn, err := net.Dial("unix", srv.sockPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return &testConn{t: t, conn: conn, scanner: bufio.NewScanner(conn)}
}

func (c *testConn) send(ev ghostline.Event) {
	c.t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		c.t.Fatal(err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		c.t.Fatal(err)
	}
}

// await reads commands until one of the given type arrives.
func (c *testConn) await(typ string) ghostline.Command {
	c.t.Helper()
	for c.scanner.Scan() {
		var cmd ghostline.Command
		if err := json.Unmarshal(c.scanner.Bytes(), &cmd); err != nil {
			c.t.Fatal(err)
		}
		if cmd.Type == typ {
			return cmd
		}
	}
	c.t.Fatalf("connection closed waiting for %q command: %v", typ, c.scanner.Err())
	return ghostline.Command{}
}

func triggerEvent(line string, col int) ghostline.Event {
	return ghostline.Event{
		Type:        ghostline.EventTrigger,
		Manual:      true,
		Buffer:      1,
		Name:        "main.go",
		Filetype:    "go",
		Mode:        "i",
		Line:        3,
		Col:         col,
		CurrentLine: line,
	}
}

func TestTriggerRendersSuggestion(t *testing.T) {
	srv := newTestServer(t, &stubTransport{tokens: []string{"fmt.Println(x)"}})
	c := dialTestServer(t, srv)

	c.send(triggerEvent("xx", 2))

	cmd := c.await(ghostline.CommandRender)
	if cmd.Text != "fmt.Println(x)" {
		t.Errorf("unexpected render text %q", cmd.Text)
	}
	if cmd.Buffer != 1 || cmd.Line != 3 || cmd.Col != 2 {
		t.Errorf("unexpected render anchor buffer=%d line=%d col=%d", cmd.Buffer, cmd.Line, cmd.Col)
	}
}

func TestAcceptSplicesAndReplies(t *testing.T) {
	srv := newTestServer(t, &stubTransport{tokens: []string{"foo\nbar"}})
	c := dialTestServer(t, srv)

	c.send(triggerEvent("xxyy", 2))
	c.await(ghostline.CommandRender)

	c.send(ghostline.Event{Type: ghostline.EventAccept})

	ins := c.await(ghostline.CommandInsert)
	if len(ins.Lines) != 2 || ins.Lines[0] != "xxfoo" || ins.Lines[1] != "baryy" {
		t.Errorf("unexpected insert lines %v", ins.Lines)
	}
	if ins.Line != 3 || ins.CursorLine != 4 || ins.CursorCol != 3 {
		t.Errorf("unexpected insert coordinates line=%d cursor=(%d,%d)", ins.Line, ins.CursorLine, ins.CursorCol)
	}

	reply := c.await(ghostline.CommandAccept)
	if !reply.OK {
		t.Error("expected accept reply ok=true")
	}
}

func TestAcceptWithoutSuggestion(t *testing.T) {
	srv := newTestServer(t, &stubTransport{})
	c := dialTestServer(t, srv)

	c.send(ghostline.Event{Type: ghostline.EventAccept})
	reply := c.await(ghostline.CommandAccept)
	if reply.OK {
		t.Error("expected accept reply ok=false with nothing to accept")
	}
}

func TestDismissClearsPreview(t *testing.T) {
	srv := newTestServer(t, &stubTransport{tokens: []string{"sug"}})
	c := dialTestServer(t, srv)

	c.send(triggerEvent("ab", 2))
	c.await(ghostline.CommandRender)

	c.send(ghostline.Event{Type: ghostline.EventDismiss})
	c.await(ghostline.CommandClear)
}

func TestStatusEvent(t *testing.T) {
	srv := newTestServer(t, &stubTransport{})
	c := dialTestServer(t, srv)

	c.send(ghostline.Event{Type: ghostline.EventStatus})
	cmd := c.await(ghostline.CommandStatus)
	if cmd.State == nil {
		t.Fatal("expected state in status reply")
	}
	if cmd.State.Status != "idle" || !cmd.State.Enabled {
		t.Errorf("unexpected initial state %+v", cmd.State)
	}
}

func TestDisableBlocksTriggers(t *testing.T) {
	srv := newTestServer(t, &stubTransport{tokens: []string{"sug"}})
	c := dialTestServer(t, srv)

	c.send(ghostline.Event{Type: ghostline.EventDisable})
	c.send(triggerEvent("ab", 2))

	c.send(ghostline.Event{Type: ghostline.EventStatus})
	cmd := c.await(ghostline.CommandStatus)
	if cmd.State.Enabled {
		t.Error("expected disabled state")
	}
	if cmd.State.Status != "idle" {
		t.Errorf("expected idle while disabled, got %s", cmd.State.Status)
	}
}

func TestModelsEvent(t *testing.T) {
	srv := newTestServer(t, &stubTransport{models: []string{"qwen2.5-coder:1.5b-base"}})
	c := dialTestServer(t, srv)

	c.send(ghostline.Event{Type: ghostline.EventModels})
	cmd := c.await(ghostline.CommandModels)
	if len(cmd.Models) != 1 || cmd.Models[0] != "qwen2.5-coder:1.5b-base" {
		t.Errorf("unexpected models %v", cmd.Models)
	}
}

func TestHealthEvent(t *testing.T) {
	srv := newTestServer(t, &stubTransport{})
	c := dialTestServer(t, srv)

	c.send(ghostline.Event{Type: ghostline.EventHealth})
	cmd := c.await(ghostline.CommandHealth)
	if !cmd.OK {
		t.Error("expected healthy reply")
	}
}

func TestConfigDefaultsAction(t *testing.T) {
	srv := newTestServer(t, &stubTransport{})
	c := dialTestServer(t, srv)

	c.send(ghostline.Event{Type: ghostline.EventConfig, Action: "defaults"})
	cmd := c.await(ghostline.CommandConfig)
	if cmd.Config == nil {
		t.Fatal("expected config in reply")
	}
	if cmd.Config.Server.Model == "" {
		t.Error("expected non-empty default model")
	}
}

func TestConfigUnknownAction(t *testing.T) {
	srv := newTestServer(t, &stubTransport{})
	c := dialTestServer(t, srv)

	c.send(ghostline.Event{Type: ghostline.EventConfig, Action: "bogus"})
	cmd := c.await(ghostline.CommandConfig)
	if cmd.Error == nil || cmd.Error.Code != "unknown_action" {
		t.Errorf("expected unknown_action error, got %+v", cmd.Error)
	}
}

func TestInvalidEventIgnored(t *testing.T) {
	srv := newTestServer(t, &stubTransport{})
	c := dialTestServer(t, srv)

	c.conn.Write([]byte("{not json\n"))

	// Connection stays up and keeps serving.
	c.send(ghostline.Event{Type: ghostline.EventStatus})
	c.await(ghostline.CommandStatus)
}
