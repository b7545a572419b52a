package mux

import (
	"devmux/internal/input"
	"devmux/internal/supervise"
)

// keyDecoder accumulates escape sequences that arrive split across reads
// so passive-mode navigation keys decode reliably.
type keyDecoder struct {
	esc []byte
}

func (k *keyDecoder) pending() bool {
	return len(k.esc) > 0
}

// handleKeys dispatches one batch of host input. In interactive mode
// everything goes to the focused child; the router filters Ctrl-X. In
// passive mode the keys drive navigation and process control.
func (m *Mux) handleKeys(data []byte) {
	f := m.focusedTab()
	if f == nil {
		return
	}
	if f.Controller.Mode() == input.Interactive {
		f.Controller.SendInput(data)
		return
	}

	for i := 0; i < len(data); i++ {
		b := data[i]
		if len(m.keys.esc) > 0 {
			m.keys.esc = append(m.keys.esc, b)
			if seq, done := m.keys.complete(); done {
				m.handleEscape(seq)
			}
			continue
		}
		switch b {
		case 0x1B:
			m.keys.esc = []byte{b}
		case '\t':
			m.focusTab((m.focused + 1) % len(m.tabs))
		case 'q':
			m.Quit()
		case 's':
			f.Controller.Toggle()
		case 'r':
			f.Controller.Restart()
		case 'i', '\r', '\n':
			m.enterInteractive(f)
		default:
			if b >= '1' && b <= '9' {
				m.focusTab(int(b - '1'))
			}
			// Everything else is ignored in passive mode.
		}
	}
}

// complete returns the buffered sequence when it is whole, clearing the
// buffer. A lone ESC (no follow-up in the same batch) stays pending and
// is flushed by the next byte or dropped on the next full sequence.
func (k *keyDecoder) complete() ([]byte, bool) {
	seq := k.esc
	if len(seq) < 2 {
		return nil, false
	}
	switch seq[1] {
	case '[':
		if len(seq) < 3 {
			return nil, false
		}
		final := seq[len(seq)-1]
		if final >= 0x40 && final <= 0x7E {
			k.esc = nil
			return seq, true
		}
		return nil, false
	case 'O':
		if len(seq) >= 3 {
			k.esc = nil
			return seq, true
		}
		return nil, false
	default:
		k.esc = nil
		return seq, true
	}
}

// handleEscape maps completed escape sequences to navigation.
func (m *Mux) handleEscape(seq []byte) {
	if len(seq) == 3 && seq[1] == '[' {
		switch seq[2] {
		case 'C': // Right: next tab
			m.focusTab((m.focused + 1) % len(m.tabs))
		case 'D': // Left: previous tab
			m.focusTab((m.focused + len(m.tabs) - 1) % len(m.tabs))
		}
	}
}

// enterInteractive hands the keyboard to the focused child when it is
// actually running.
func (m *Mux) enterInteractive(f *Tab) {
	if f.Controller.State() != supervise.Running {
		return
	}
	f.Controller.OnExitInteractive(func() {
		f.Controller.SetMode(input.Passive)
		m.firstFrame = true
	})
	f.Controller.SetMode(input.Interactive)
}
