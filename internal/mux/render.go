package mux

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"devmux/internal/input"
	"devmux/internal/supervise"
)

// render paints the focused tab's screen and the status bar. After the
// first frame, each repaint starts with a cursor-home escape back to the
// top of the previous frame instead of clearing, so the terminal never
// flickers.
func (m *Mux) render() {
	f := m.focusedTab()
	if f == nil {
		return
	}
	var buf bytes.Buffer
	if m.firstFrame {
		m.firstFrame = false
	} else {
		fmt.Fprintf(&buf, "\033[%dF", m.rows)
	}
	for _, line := range f.Controller.RenderInto(m.cols, m.rows-1) {
		buf.WriteString("\r")
		buf.WriteString(line)
		buf.WriteString("\033[K\n")
	}
	m.renderStatusBar(&buf)
	m.out.Write(buf.Bytes())
}

// renderStatusBar draws the reserved bottom row: tab names with states,
// the focused tab's mode, and the quitting overlay.
func (m *Mux) renderStatusBar(buf *bytes.Buffer) {
	var label string
	if m.quitting {
		label = " Quitting... "
	} else {
		parts := make([]string, 0, len(m.tabs))
		for i, tab := range m.tabs {
			marker := " "
			if i == m.focused {
				marker = "*"
			}
			parts = append(parts, fmt.Sprintf("%s%d:%s[%s]", marker, i+1, tab.Controller.Name, stateGlyph(tab.Controller.State())))
		}
		label = strings.Join(parts, " ")
		if f := m.focusedTab(); f != nil && f.Controller.Mode() == input.Interactive {
			label += " | interactive (Ctrl-X to leave)"
		} else {
			label += " | Tab switch · i interact · s toggle · r restart · q quit"
		}
	}
	label = runewidth.Truncate(label, m.cols, "")
	pad := m.cols - runewidth.StringWidth(label)
	if pad < 0 {
		pad = 0
	}
	buf.WriteString("\r\033[7m")
	buf.WriteString(label)
	buf.WriteString(strings.Repeat(" ", pad))
	buf.WriteString("\033[0m")
}

func stateGlyph(s supervise.State) string {
	switch s {
	case supervise.Running:
		return "up"
	case supervise.Starting:
		return "start"
	case supervise.Stopping:
		return "stop"
	case supervise.ForceKilling:
		return "kill"
	default:
		return "down"
	}
}
