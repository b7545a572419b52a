package vterm

import (
	"fmt"
	"strings"
)

// RenderLine renders one visible row as a string of SGR runs. The pen is
// reset between runs so backgrounds never bleed across cells, and reset
// again at the end of the line.
func (s *Screen) RenderLine(row int) string {
	return renderCells(s.Row(row))
}

// RenderScrollbackLine renders one retained scrolled-off row.
func (s *Screen) RenderScrollbackLine(i int) string {
	return renderCells(s.ScrollbackRow(i))
}

func renderCells(cells []Cell) string {
	var b strings.Builder
	var cur Pen
	for _, c := range cells {
		if c.Width == 0 {
			continue
		}
		if c.Pen != cur {
			b.WriteString("\033[0m")
			b.WriteString(c.Pen.sgr())
			cur = c.Pen
		}
		b.WriteString(c.Grapheme)
	}
	b.WriteString("\033[0m")
	return b.String()
}

// sgr returns the escape sequence that switches a default pen to p, or ""
// for the default pen.
func (p Pen) sgr() string {
	if p.IsDefault() {
		return ""
	}
	var codes []string
	if p.Bold {
		codes = append(codes, "1")
	}
	if p.Underline {
		codes = append(codes, "4")
	}
	if p.Inverse {
		codes = append(codes, "7")
	}
	codes = append(codes, p.FG.sgr(false)...)
	codes = append(codes, p.BG.sgr(true)...)
	if len(codes) == 0 {
		return ""
	}
	return "\033[" + strings.Join(codes, ";") + "m"
}

func (c Color) sgr(background bool) []string {
	base := 38
	if background {
		base = 48
	}
	switch c.Mode {
	case ColorIndexed:
		if c.Index < 8 {
			n := int(c.Index) + 30
			if background {
				n += 10
			}
			return []string{fmt.Sprintf("%d", n)}
		}
		if c.Index < 16 {
			n := int(c.Index) - 8 + 90
			if background {
				n += 10
			}
			return []string{fmt.Sprintf("%d", n)}
		}
		return []string{fmt.Sprintf("%d;5;%d", base, c.Index)}
	case ColorRGB:
		return []string{fmt.Sprintf("%d;2;%d;%d;%d", base, c.R, c.G, c.B)}
	}
	return nil
}
