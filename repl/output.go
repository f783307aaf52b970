package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/hollowbyte/ghostline/complete"
)

// termWriter wraps a file and converts \n to \r\n when the file is a
// terminal (raw mode disables the kernel's NL→CRNL translation). When the
// file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// sessionLog writes one TOML entry per finished suggestion to stdout.
type sessionLog struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *sessionLog) accepted(snap complete.BufferSnapshot, text string) {
	l.write(snap, text, true)
}

func (l *sessionLog) dismissed(snap complete.BufferSnapshot, text string) {
	l.write(snap, text, false)
}

func (l *sessionLog) write(snap complete.BufferSnapshot, text string, accepted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.w, "[[suggestions]]")
	fmt.Fprintf(l.w, "timestamp = %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(l.w, "line = %s\n", tomlQuote(snap.CurrentLine))
	fmt.Fprintf(l.w, "cursor = %d\n", snap.Cursor.Col)
	fmt.Fprintf(l.w, "text = %s\n", tomlQuote(text))
	fmt.Fprintf(l.w, "accepted = %t\n", accepted)
	fmt.Fprintln(l.w)
}

// tomlQuote returns a TOML basic-string quoted value.
func tomlQuote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}
