// Package input routes host keystrokes to the focused child's PTY while
// keeping a local estimate of the child's line-edit state for
// bounds-checking cursor keys.
package input

import (
	"io"

	"github.com/rivo/uniseg"
)

// Mode decides what happens to keys for a tab.
type Mode int

const (
	// Passive: the host consumes keys for navigation; nothing reaches
	// the child through Route.
	Passive Mode = iota
	// Interactive: keys are translated and forwarded to the PTY.
	Interactive
)

func (m Mode) String() string {
	if m == Interactive {
		return "interactive"
	}
	return "passive"
}

const (
	ctrlX = 0x18
	esc   = 0x1B
	del   = 0x7F
)

// Router forwards keystrokes to a child's PTY stdin. The mode is owned
// by the process controller; the router only reads it.
type Router struct {
	// Width is the screen width used to approximate one "line" for
	// Up/Down adjustments.
	Width int

	// Local line-edit estimate. The child's actual state is
	// unknowable; these follow the forwarded keys so arrow keys and
	// backspace can be bounds-checked.
	LineLen   int
	CursorPos int

	// OnExitInteractive fires when Ctrl-X is seen; the byte itself is
	// not forwarded.
	OnExitInteractive func()

	pendingEsc []byte
}

// Route translates and forwards one batch of interactive-mode input to w.
// Escape sequences split across batches are held until complete.
func (r *Router) Route(w io.Writer, data []byte) error {
	var out []byte
	i := 0
	for i < len(data) {
		if len(r.pendingEsc) > 0 {
			r.pendingEsc = append(r.pendingEsc, data[i])
			i++
			if escSequenceComplete(r.pendingEsc) {
				out = r.appendEscape(out, r.pendingEsc)
				r.pendingEsc = nil
			}
			continue
		}
		b := data[i]
		switch {
		case b == ctrlX:
			i++
			if r.OnExitInteractive != nil {
				r.OnExitInteractive()
			}
		case b == esc:
			r.pendingEsc = []byte{b}
			i++
		case b == '\n':
			out = append(out, '\r')
			r.LineLen, r.CursorPos = 0, 0
			i++
		case b == '\r':
			out = append(out, '\r')
			r.LineLen, r.CursorPos = 0, 0
			i++
		case b == del || b == '\b':
			if r.CursorPos == 0 {
				i++
				continue
			}
			r.CursorPos--
			r.LineLen--
			out = append(out, b)
			i++
		case b < 0x20:
			// Other control keys pass through untouched and do not
			// move the estimate.
			out = append(out, b)
			i++
		default:
			// Printable run: count graphemes, forward verbatim.
			j := i
			for j < len(data) && data[j] >= 0x20 && data[j] != del && data[j] != esc {
				j++
			}
			run := data[i:j]
			n := uniseg.GraphemeClusterCount(string(run))
			r.CursorPos += n
			r.LineLen += n
			out = append(out, run...)
			i = j
		}
	}
	if len(out) == 0 {
		return nil
	}
	_, err := w.Write(out)
	return err
}

// appendEscape applies the estimate rules to a completed escape sequence
// and returns out with the sequence appended when it should be forwarded.
func (r *Router) appendEscape(out, seq []byte) []byte {
	if len(seq) == 3 && seq[1] == '[' {
		switch seq[2] {
		case 'D': // Left: clamp at 0, swallow when already there.
			if r.CursorPos == 0 {
				return out
			}
			r.CursorPos--
		case 'C': // Right: clamp at line length.
			if r.CursorPos >= r.LineLen {
				return out
			}
			r.CursorPos++
		case 'A': // Up: one screen line back, always forwarded.
			r.CursorPos -= r.Width
			if r.CursorPos < 0 {
				r.CursorPos = 0
			}
		case 'B': // Down: one screen line forward, always forwarded.
			r.CursorPos += r.Width
			if r.CursorPos > r.LineLen {
				r.CursorPos = r.LineLen
			}
		}
	}
	return append(out, seq...)
}

// Reset clears the line estimate and any half-received escape sequence.
// Called when the controller enters or leaves interactive mode.
func (r *Router) Reset() {
	r.LineLen, r.CursorPos = 0, 0
	r.pendingEsc = nil
}

// escSequenceComplete reports whether seq is a full escape sequence.
func escSequenceComplete(seq []byte) bool {
	if len(seq) < 2 {
		return false
	}
	switch seq[1] {
	case '[':
		if len(seq) < 3 {
			return false
		}
		final := seq[len(seq)-1]
		return final >= 0x40 && final <= 0x7E
	case 'O':
		return len(seq) >= 3
	default:
		return true
	}
}
