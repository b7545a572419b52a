package vterm

import (
	"strings"

	"github.com/rivo/uniseg"
)

// DefaultScrollback is the number of scrolled-off rows retained when the
// caller does not choose a limit.
const DefaultScrollback = 2000

// Screen is a fixed-size grid of cells with cursor state. It is mutated
// only by the Parser feeding it; readers take row snapshots for rendering.
type Screen struct {
	cols, rows int
	lines      [][]Cell

	CursorCol int
	CursorRow int

	pen         Pen
	wrapPending bool

	saved      savedCursor
	hasSaved   bool
	savedCSI   savedCursor // CSI s/u slot, cursor only
	hasSavedCSI bool

	scrollback    [][]Cell
	maxScrollback int

	// Cluster continuation state: position of the most recently written
	// cell so that zero-width followers (VS16, combining marks) and ZWJ
	// joins extend it instead of occupying their own cell.
	lastRow, lastCol int
	lastValid        bool
	zwjPending       bool

	// Recovered counts malformed or unsupported sequences that were
	// parsed to completion and dropped.
	Recovered int
}

type savedCursor struct {
	col, row int
	pen      Pen
}

// NewScreen returns a blank cols x rows screen. maxScrollback <= 0 selects
// DefaultScrollback.
func NewScreen(cols, rows, maxScrollback int) *Screen {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	if maxScrollback <= 0 {
		maxScrollback = DefaultScrollback
	}
	s := &Screen{cols: cols, rows: rows, maxScrollback: maxScrollback}
	s.lines = make([][]Cell, rows)
	for i := range s.lines {
		s.lines[i] = blankRow(cols, Pen{})
	}
	return s
}

func blankRow(cols int, pen Pen) []Cell {
	row := make([]Cell, cols)
	for i := range row {
		row[i] = blankCell(pen)
	}
	return row
}

// Size returns the grid dimensions.
func (s *Screen) Size() (cols, rows int) {
	return s.cols, s.rows
}

// Pen returns the current pen.
func (s *Screen) Pen() Pen {
	return s.pen
}

// Row returns the cells of a visible row. The returned slice is the live
// backing array; callers must not mutate it.
func (s *Screen) Row(row int) []Cell {
	if row < 0 || row >= s.rows {
		return nil
	}
	return s.lines[row]
}

// ScrollbackLen returns the number of retained scrolled-off rows.
func (s *Screen) ScrollbackLen() int {
	return len(s.scrollback)
}

// ScrollbackRow returns a retained scrolled-off row, oldest first.
func (s *Screen) ScrollbackRow(i int) []Cell {
	if i < 0 || i >= len(s.scrollback) {
		return nil
	}
	return s.scrollback[i]
}

// breakCluster forgets the last-written cell so subsequent zero-width
// runes no longer extend it. Called on any control or escape dispatch.
func (s *Screen) breakCluster() {
	s.lastValid = false
	s.zwjPending = false
}

// writeRune handles one printable rune from the parser, coalescing
// grapheme clusters across calls.
func (s *Screen) writeRune(r rune) {
	const zwj rune = 0x200D
	if r == zwj {
		if s.lastValid {
			s.extendCluster(r)
			s.zwjPending = true
		}
		return
	}
	if s.zwjPending {
		s.zwjPending = false
		if s.lastValid {
			s.extendCluster(r)
			return
		}
	}
	g := string(r)
	w := uniseg.StringWidth(g)
	if w <= 0 {
		// Combining mark, variation selector, or other zero-width rune:
		// attach to the previously written cell when there is one.
		if s.lastValid {
			s.extendCluster(r)
		}
		return
	}
	if w > 2 {
		w = 2
	}
	s.writeCluster(g, w)
}

// extendCluster appends a rune to the most recently written cell and
// recomputes its width, growing a 1-column cell into a 2-column one when
// the cluster becomes wide (e.g. a heart gaining VS16).
func (s *Screen) extendCluster(r rune) {
	row := s.lines[s.lastRow]
	cell := &row[s.lastCol]
	cell.Grapheme += string(r)
	w := uniseg.StringWidth(cell.Grapheme)
	if w <= 0 {
		w = 1
	}
	if w > 2 {
		w = 2
	}
	if int(cell.Width) == 1 && w == 2 {
		if s.lastCol+1 < s.cols {
			s.clearWideAt(s.lastRow, s.lastCol+1)
			row[s.lastCol+1] = continuationCell(cell.Pen)
			cell.Width = 2
			// The cursor sat just past the old 1-column cell; move it
			// past the grown cluster.
			if s.CursorRow == s.lastRow && s.CursorCol == s.lastCol+1 {
				if s.lastCol+2 >= s.cols {
					s.CursorCol = s.cols - 1
					s.wrapPending = true
				} else {
					s.CursorCol = s.lastCol + 2
				}
			}
		}
		// No room for the continuation at the right edge: keep the cell
		// 1 column wide rather than breaking the row-width invariant.
	}
}

// writeCluster writes a whole grapheme cluster of the given width at the
// cursor, honoring wrap-pending and the wide-glyph edge rules.
func (s *Screen) writeCluster(g string, w int) {
	if s.wrapPending {
		s.wrapPending = false
		s.CursorCol = 0
		s.lineFeed()
	}
	if w == 2 && s.CursorCol == s.cols-1 {
		// A wide glyph cannot start in the last column: defer the whole
		// write to the next row.
		s.CursorCol = 0
		s.lineFeed()
	}
	col, row := s.CursorCol, s.CursorRow
	s.clearWideAt(row, col)
	s.lines[row][col] = Cell{Grapheme: g, Width: uint8(w), Pen: s.pen}
	if w == 2 {
		s.clearWideAt(row, col+1)
		s.lines[row][col+1] = continuationCell(s.pen)
	}
	s.lastRow, s.lastCol, s.lastValid = row, col, true

	next := col + w
	if next >= s.cols {
		s.CursorCol = s.cols - 1
		s.wrapPending = true
	} else {
		s.CursorCol = next
	}
}

// clearWideAt repairs the neighbors of (row, col) before it is
// overwritten: a continuation cell loses its wide head (the head becomes
// a blank), and a wide head loses its continuation.
func (s *Screen) clearWideAt(row, col int) {
	if col < 0 || col >= s.cols {
		return
	}
	line := s.lines[row]
	switch line[col].Width {
	case 0:
		if col > 0 && line[col-1].Width == 2 {
			line[col-1] = blankCell(line[col-1].Pen)
		}
	case 2:
		if col+1 < s.cols && line[col+1].Width == 0 {
			line[col+1] = blankCell(line[col+1].Pen)
		}
	}
}

// lineFeed moves the cursor down one row, scrolling at the bottom.
func (s *Screen) lineFeed() {
	if s.CursorRow+1 >= s.rows {
		s.scrollUp()
	} else {
		s.CursorRow++
	}
}

// scrollUp discards row 0 into the scrollback, shifts all rows up, and
// leaves the last row blank with the current pen.
func (s *Screen) scrollUp() {
	s.scrollback = append(s.scrollback, s.lines[0])
	if len(s.scrollback) > s.maxScrollback {
		trim := len(s.scrollback) - s.maxScrollback
		s.scrollback = s.scrollback[trim:]
	}
	copy(s.lines, s.lines[1:])
	s.lines[s.rows-1] = blankRow(s.cols, s.pen)
	if s.lastValid {
		s.lastRow--
		if s.lastRow < 0 {
			s.lastValid = false
		}
	}
}

// execute handles a C0 control byte.
func (s *Screen) execute(b byte) {
	s.breakCluster()
	switch b {
	case '\n':
		s.wrapPending = false
		s.lineFeed()
	case '\r':
		s.wrapPending = false
		s.CursorCol = 0
	case '\b':
		s.wrapPending = false
		if s.CursorCol > 0 {
			s.CursorCol--
		}
	case '\t':
		s.wrapPending = false
		next := (s.CursorCol/8 + 1) * 8
		if next > s.cols-1 {
			next = s.cols - 1
		}
		s.CursorCol = next
	}
	// Other C0 bytes (BEL, SO, SI, ...) are ignored.
}

// cursorMove moves the cursor by a clamped delta.
func (s *Screen) cursorMove(dCol, dRow int) {
	s.breakCluster()
	s.wrapPending = false
	s.CursorCol = clamp(s.CursorCol+dCol, 0, s.cols-1)
	s.CursorRow = clamp(s.CursorRow+dRow, 0, s.rows-1)
}

// moveTo places the cursor absolutely (0-based), clamped to the grid.
func (s *Screen) moveTo(col, row int) {
	s.breakCluster()
	s.wrapPending = false
	s.CursorCol = clamp(col, 0, s.cols-1)
	s.CursorRow = clamp(row, 0, s.rows-1)
}

// eraseLine blanks part of the cursor row. Modes follow CSI K: 0 = cursor
// to end, 1 = start through cursor, 2 = whole line.
func (s *Screen) eraseLine(mode int) {
	s.breakCluster()
	switch mode {
	case 0:
		s.eraseCells(s.CursorRow, s.CursorCol, s.cols)
	case 1:
		s.eraseCells(s.CursorRow, 0, s.CursorCol+1)
	case 2:
		s.eraseCells(s.CursorRow, 0, s.cols)
	}
}

// eraseDisplay blanks part of the screen. Modes follow CSI J.
func (s *Screen) eraseDisplay(mode int) {
	s.breakCluster()
	switch mode {
	case 0:
		s.eraseCells(s.CursorRow, s.CursorCol, s.cols)
		for r := s.CursorRow + 1; r < s.rows; r++ {
			s.eraseCells(r, 0, s.cols)
		}
	case 1:
		for r := 0; r < s.CursorRow; r++ {
			s.eraseCells(r, 0, s.cols)
		}
		s.eraseCells(s.CursorRow, 0, s.CursorCol+1)
	case 2:
		for r := 0; r < s.rows; r++ {
			s.eraseCells(r, 0, s.cols)
		}
	}
}

// eraseCells blanks [from, to) in a row with the default pen, repairing
// any wide cell split by the range boundaries.
func (s *Screen) eraseCells(row, from, to int) {
	from = clamp(from, 0, s.cols)
	to = clamp(to, 0, s.cols)
	if from >= to {
		return
	}
	s.clearWideAt(row, from)
	if to < s.cols {
		s.clearWideAt(row, to-1)
	}
	line := s.lines[row]
	for i := from; i < to; i++ {
		line[i] = blankCell(Pen{})
	}
}

// saveCursor stores cursor and pen (ESC 7).
func (s *Screen) saveCursor() {
	s.saved = savedCursor{col: s.CursorCol, row: s.CursorRow, pen: s.pen}
	s.hasSaved = true
}

// restoreCursor restores cursor and pen (ESC 8). Without a prior save the
// cursor homes, which is what DECRC does on real terminals.
func (s *Screen) restoreCursor() {
	s.breakCluster()
	s.wrapPending = false
	if !s.hasSaved {
		s.CursorCol, s.CursorRow = 0, 0
		return
	}
	s.CursorCol = clamp(s.saved.col, 0, s.cols-1)
	s.CursorRow = clamp(s.saved.row, 0, s.rows-1)
	s.pen = s.saved.pen
}

// saveCursorCSI stores the cursor position only (CSI s).
func (s *Screen) saveCursorCSI() {
	s.savedCSI = savedCursor{col: s.CursorCol, row: s.CursorRow}
	s.hasSavedCSI = true
}

// restoreCursorCSI restores the cursor position only (CSI u).
func (s *Screen) restoreCursorCSI() {
	s.breakCluster()
	s.wrapPending = false
	if !s.hasSavedCSI {
		s.CursorCol, s.CursorRow = 0, 0
		return
	}
	s.CursorCol = clamp(s.savedCSI.col, 0, s.cols-1)
	s.CursorRow = clamp(s.savedCSI.row, 0, s.rows-1)
}

// Resize changes the grid dimensions, clipping or padding rows and
// clamping the cursor.
func (s *Screen) Resize(cols, rows int) {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	if cols == s.cols && rows == s.rows {
		return
	}
	lines := make([][]Cell, rows)
	for i := range lines {
		if i < s.rows {
			lines[i] = resizeRow(s.lines[i], cols)
		} else {
			lines[i] = blankRow(cols, Pen{})
		}
	}
	for i := range s.scrollback {
		s.scrollback[i] = resizeRow(s.scrollback[i], cols)
	}
	s.lines = lines
	s.cols, s.rows = cols, rows
	s.CursorCol = clamp(s.CursorCol, 0, cols-1)
	s.CursorRow = clamp(s.CursorRow, 0, rows-1)
	s.wrapPending = false
	s.breakCluster()
}

func resizeRow(row []Cell, cols int) []Cell {
	if len(row) == cols {
		return row
	}
	if len(row) > cols {
		clipped := row[:cols]
		// Never end a row on a dangling wide head.
		if cols > 0 && clipped[cols-1].Width == 2 {
			clipped[cols-1] = blankCell(clipped[cols-1].Pen)
		}
		return clipped
	}
	out := make([]Cell, cols)
	copy(out, row)
	for i := len(row); i < cols; i++ {
		out[i] = blankCell(Pen{})
	}
	return out
}

// PlainText renders the visible grid as plain text, one line per row with
// trailing blanks trimmed. Used by tests and status snapshots.
func (s *Screen) PlainText() string {
	var b strings.Builder
	for r := 0; r < s.rows; r++ {
		line := s.rowText(r)
		b.WriteString(line)
		if r < s.rows-1 {
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), " \n")
}

func (s *Screen) rowText(r int) string {
	var b strings.Builder
	for _, c := range s.lines[r] {
		if c.Width == 0 {
			continue
		}
		b.WriteString(c.Grapheme)
	}
	return strings.TrimRight(b.String(), " ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
