package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/hollowbyte/ghostline/complete"
)

const replBuffer = 1 // buffer id reported to the engine

// Editor is a minimal in-terminal buffer with cursor tracking and inline
// ghost text. It reads from /dev/tty so it works even when stdout is
// redirected, and it doubles as the orchestrator's Renderer and Editor.
type Editor struct {
	tty      *os.File
	oldState *term.State

	mu        sync.Mutex
	committed []string // lines above the one being edited
	buf       []byte   // current line
	pos       int      // cursor byte offset into buf
	ghost     string   // pending suggestion shown after the cursor
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return &Editor{tty: tty, oldState: old}, nil
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Tty returns the tty file for writing UI text.
func (e *Editor) Tty() *os.File {
	return e.tty
}

// Show implements complete.Renderer. Called from engine goroutines as
// tokens stream in.
func (e *Editor) Show(_ int, _ complete.Position, text string) {
	e.mu.Lock()
	e.ghost = text
	e.redrawLocked()
	e.mu.Unlock()
}

// Clear implements complete.Renderer.
func (e *Editor) Clear() {
	e.mu.Lock()
	e.ghost = ""
	e.redrawLocked()
	e.mu.Unlock()
}

// Insert implements complete.Editor. All spliced lines but the last are
// committed; the last becomes the new editable line.
func (e *Editor) Insert(ins complete.Insertion) {
	if len(ins.Lines) == 0 {
		return
	}
	e.mu.Lock()
	for _, line := range ins.Lines[:len(ins.Lines)-1] {
		e.commitLocked(line)
	}
	last := ins.Lines[len(ins.Lines)-1]
	e.buf = []byte(last)
	e.pos = ins.Cursor.Col
	if e.pos > len(e.buf) {
		e.pos = len(e.buf)
	}
	e.redrawLocked()
	e.mu.Unlock()
}

// Run drives the edit loop until Ctrl-D or Ctrl-C.
func (e *Editor) Run(orc *complete.Orchestrator, filetype string, log *sessionLog) {
	e.mu.Lock()
	e.redrawLocked()
	e.mu.Unlock()

	var esc [8]byte

	for {
		var b [1]byte
		if _, err := e.tty.Read(b[:]); err != nil {
			return
		}

		edited := false
		moved := false

		switch b[0] {
		case 3, 4: // Ctrl-C / Ctrl-D
			fmt.Fprintf(e.tty, "\r\n")
			return

		case 9: // Tab: accept
			snap := e.snapshot(filetype)
			text, _ := orc.Suggestion()
			if orc.Accept() {
				log.accepted(snap, text)
			}
			continue

		case 7: // Ctrl-G: manual trigger
			orc.Trigger(e.snapshot(filetype), true)
			continue

		case 13, 10: // Enter: commit current line, start a new one
			e.mu.Lock()
			e.commitLocked(string(e.buf))
			e.buf = e.buf[:0]
			e.pos = 0
			e.redrawLocked()
			e.mu.Unlock()
			edited = true

		case 127, 8: // Backspace
			e.mu.Lock()
			if e.pos > 0 {
				size := prevRuneLen(e.buf, e.pos)
				copy(e.buf[e.pos-size:], e.buf[e.pos:])
				e.buf = e.buf[:len(e.buf)-size]
				e.pos -= size
				edited = true
			}
			e.redrawLocked()
			e.mu.Unlock()

		case 1: // Ctrl-A
			e.mu.Lock()
			e.pos = 0
			e.redrawLocked()
			e.mu.Unlock()
			moved = true

		case 5: // Ctrl-E
			e.mu.Lock()
			e.pos = len(e.buf)
			e.redrawLocked()
			e.mu.Unlock()
			moved = true

		case 21: // Ctrl-U
			e.mu.Lock()
			e.buf = e.buf[:0]
			e.pos = 0
			e.redrawLocked()
			e.mu.Unlock()
			edited = true

		case 27: // Esc or escape sequence
			n, _ := e.tty.Read(esc[:1])
			if n == 0 || esc[0] != '[' {
				if text, ok := orc.Suggestion(); ok {
					log.dismissed(e.snapshot(filetype), text)
				}
				orc.Dismiss()
				continue
			}
			n, _ = e.tty.Read(esc[1:2])
			if n == 0 {
				continue
			}
			e.mu.Lock()
			switch esc[1] {
			case 'D': // Left
				if e.pos > 0 {
					e.pos -= prevRuneLen(e.buf, e.pos)
					moved = true
				}
			case 'C': // Right
				if e.pos < len(e.buf) {
					_, size := utf8.DecodeRune(e.buf[e.pos:])
					e.pos += size
					moved = true
				}
			case 'H':
				e.pos = 0
				moved = true
			case 'F':
				e.pos = len(e.buf)
				moved = true
			case '3': // Delete: \x1b[3~
				e.tty.Read(esc[2:3])
				if e.pos < len(e.buf) {
					_, size := utf8.DecodeRune(e.buf[e.pos:])
					copy(e.buf[e.pos:], e.buf[e.pos+size:])
					e.buf = e.buf[:len(e.buf)-size]
					edited = true
				}
			}
			e.redrawLocked()
			e.mu.Unlock()

		default:
			if b[0] >= 32 {
				ch := []byte{b[0]}
				if b[0] >= 0xC0 {
					extra := utf8RuneLen(b[0]) - 1
					tmp := make([]byte, extra)
					e.tty.Read(tmp)
					ch = append(ch, tmp...)
				}
				e.mu.Lock()
				e.buf = append(e.buf, make([]byte, len(ch))...)
				copy(e.buf[e.pos+len(ch):], e.buf[e.pos:len(e.buf)-len(ch)])
				copy(e.buf[e.pos:], ch)
				e.pos += len(ch)
				e.redrawLocked()
				e.mu.Unlock()
				edited = true
			}
		}

		if edited {
			orc.Trigger(e.snapshot(filetype), false)
		} else if moved {
			snap := e.snapshot(filetype)
			orc.CursorMoved(replBuffer, snap.Cursor)
		}
	}
}

// snapshot captures the buffer for the engine.
func (e *Editor) snapshot(filetype string) complete.BufferSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	before := make([]string, len(e.committed))
	copy(before, e.committed)
	return complete.BufferSnapshot{
		Buffer:      replBuffer,
		Name:        "repl",
		Language:    filetype,
		Mode:        "i",
		Cursor:      complete.Position{Line: len(e.committed), Col: e.pos},
		CurrentLine: string(e.buf),
		Before:      before,
	}
}

// commitLocked prints a line above the edit row and records it.
func (e *Editor) commitLocked(line string) {
	fmt.Fprintf(e.tty, "\r\x1b[K%s\r\n", line)
	e.committed = append(e.committed, line)
}

// redrawLocked clears the edit row and redraws buffer + dimmed ghost text,
// then moves the cursor back into position. Newlines in the ghost are shown
// as a return symbol so the row stays single-line.
func (e *Editor) redrawLocked() {
	fmt.Fprintf(e.tty, "\r\x1b[K%s", string(e.buf[:e.pos]))
	tail := string(e.buf[e.pos:])
	if e.ghost != "" {
		shown := strings.ReplaceAll(e.ghost, "\n", "⏎")
		fmt.Fprintf(e.tty, "\x1b[2m%s\x1b[0m", shown)
		fmt.Fprintf(e.tty, "%s", tail)
		back := utf8.RuneCountInString(tail) + utf8.RuneCountInString(shown)
		if back > 0 {
			fmt.Fprintf(e.tty, "\x1b[%dD", back)
		}
		return
	}
	fmt.Fprintf(e.tty, "%s", tail)
	if n := utf8.RuneCountInString(tail); n > 0 {
		fmt.Fprintf(e.tty, "\x1b[%dD", n)
	}
}

// prevRuneLen returns the byte size of the rune ending at pos.
func prevRuneLen(buf []byte, pos int) int {
	if pos <= 0 {
		return 0
	}
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	_, size := utf8.DecodeRune(buf[i:pos])
	return size
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence from its
// leading byte.
func utf8RuneLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	}
	return 4
}
