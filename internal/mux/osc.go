package mux

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/muesli/termenv"
)

// oscPalette answers OSC 10/11 color queries from children using the
// host terminal's real colors, detected once before raw mode.
type oscPalette struct {
	fg string
	bg string
}

// detect queries the outer terminal. Must run before the loop takes the
// terminal into raw mode.
func (o *oscPalette) detect() {
	output := termenv.NewOutput(os.Stdout)
	if fg := output.ForegroundColor(); fg != nil {
		o.fg = colorToX11(fg)
	}
	if bg := output.BackgroundColor(); bg != nil {
		o.bg = colorToX11(bg)
	}
	if o.fg == "" || o.bg == "" {
		fg, bg := fallbackPalette(os.Getenv("COLORFGBG"))
		if o.fg == "" {
			o.fg = fg
		}
		if o.bg == "" {
			o.bg = bg
		}
	}
}

// reply scans a raw output chunk for OSC 10/11 queries and returns the
// response bytes to write back to the child.
func (o *oscPalette) reply(chunk []byte) []byte {
	var out []byte
	if bytes.Contains(chunk, []byte("\033]10;?")) {
		out = append(out, fmt.Sprintf("\033]10;%s\033\\", o.fg)...)
	}
	if bytes.Contains(chunk, []byte("\033]11;?")) {
		out = append(out, fmt.Sprintf("\033]11;%s\033\\", o.bg)...)
	}
	return out
}

// colorToX11 converts a termenv color to the X11 rgb: format OSC replies
// use.
func colorToX11(c termenv.Color) string {
	if c == nil {
		return ""
	}
	if v, ok := c.(termenv.RGBColor); ok {
		hex := string(v)
		if len(hex) == 7 && hex[0] == '#' {
			r, _ := strconv.ParseUint(hex[1:3], 16, 8)
			g, _ := strconv.ParseUint(hex[3:5], 16, 8)
			b, _ := strconv.ParseUint(hex[5:7], 16, 8)
			return fmt.Sprintf("rgb:%04x/%04x/%04x", r*0x101, g*0x101, b*0x101)
		}
	}
	rgb := termenv.ConvertToRGB(c)
	r := uint16(rgb.R*255 + 0.5)
	g := uint16(rgb.G*255 + 0.5)
	b := uint16(rgb.B*255 + 0.5)
	return fmt.Sprintf("rgb:%04x/%04x/%04x", r*0x101, g*0x101, b*0x101)
}

// fallbackPalette derives OSC-compatible colors from COLORFGBG, assuming
// a dark terminal when parsing fails.
func fallbackPalette(colorfgbg string) (fg, bg string) {
	parts := strings.Split(strings.TrimSpace(colorfgbg), ";")
	bgDark := true
	bgField := ""
	if len(parts) >= 2 {
		bgField = strings.TrimSpace(parts[1])
	} else if len(parts) == 1 {
		bgField = strings.TrimSpace(parts[0])
	}
	if bgField != "" {
		if idx, err := strconv.Atoi(bgField); err == nil {
			bgDark = idx < 8
		}
	}
	if bgDark {
		return "rgb:ffff/ffff/ffff", "rgb:0000/0000/0000"
	}
	return "rgb:0000/0000/0000", "rgb:ffff/ffff/ffff"
}
