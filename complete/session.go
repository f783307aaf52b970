package complete

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// session is the live unit of work. It is owned exclusively by the
// orchestrator; the anchor and buffer never change after capture, and the
// suggestion text is mutated only while Streaming. At most one session is
// live per orchestrator at any instant.
type session struct {
	id     uuid.UUID
	status Status
	buffer int
	anchor Position
	// line is the anchor line's content at trigger time, used to build the
	// splice on accept.
	line string
	snap BufferSnapshot

	text strings.Builder

	// timer is the debounce timer (Pending only); cancel aborts the
	// in-flight transport request (Streaming only). Both are torn down on
	// any state reset.
	timer  *time.Timer
	cancel context.CancelFunc
}

func newSession(snap BufferSnapshot) *session {
	return &session{
		id:     uuid.New(),
		status: Pending,
		buffer: snap.Buffer,
		anchor: snap.Cursor,
		line:   snap.CurrentLine,
		snap:   snap,
	}
}

// teardown stops the debounce timer and cancels the outstanding request.
// Late callbacks from a cancelled request are discarded by session-identity
// comparison, not by this call.
func (s *session) teardown() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// buildInsertion computes the buffer splice for an accepted suggestion.
// The suggestion is split on newlines; the first fragment is prefixed with
// the pre-cursor text of the anchor line and the last fragment is suffixed
// with the post-cursor text. The cursor lands at the end of the last
// inserted fragment, before the re-appended post-cursor text.
func buildInsertion(text string, buffer int, anchor Position, line string) Insertion {
	col := anchor.Col
	if col > len(line) {
		col = len(line)
	}
	pre := line[:col]
	post := line[col:]

	frags := strings.Split(text, "\n")
	frags[0] = pre + frags[0]
	last := len(frags) - 1
	cursorCol := len(frags[last])
	frags[last] += post

	return Insertion{
		Buffer: buffer,
		Line:   anchor.Line,
		Lines:  frags,
		Cursor: Position{Line: anchor.Line + last, Col: cursorCol},
	}
}
