package tui

import "strings"

// cell is one screen position: a rune plus the SGR escape sequence that
// should precede it, empty for default attributes.
type cell struct {
	r    rune
	attr string
}

// VTerm is a minimal virtual terminal: a grid of cells the renderer paints
// into, diffed against the previously painted grid so a redraw only emits
// escape sequences for the lines that actually changed (spec.md §4.D:
// "writes into a virtual terminal model ... and diff-updates the real
// terminal"). No corpus example ships a full terminal-cell library (the
// PTY-adjacent deps it has, e.g. creack/pty and golang.org/x/term, manage
// raw mode and winsize, not cell-grid rendering), so this is hand-rolled
// against ANSI directly rather than bent through an unrelated library.
type VTerm struct {
	rows, cols int
	cells      [][]cell
	prev       [][]cell
}

func NewVTerm(rows, cols int) *VTerm {
	v := &VTerm{rows: rows, cols: cols}
	v.cells = makeGrid(rows, cols)
	v.prev = makeGrid(rows, cols)
	return v
}

func makeGrid(rows, cols int) [][]cell {
	g := make([][]cell, rows)
	for i := range g {
		g[i] = make([]cell, cols)
		for j := range g[i] {
			g[i][j] = cell{r: ' '}
		}
	}
	return g
}

// Resize grows or shrinks the grid in place, preserving overlapping cells.
func (v *VTerm) Resize(rows, cols int) {
	next := makeGrid(rows, cols)
	for r := 0; r < rows && r < v.rows; r++ {
		for c := 0; c < cols && c < v.cols; c++ {
			next[r][c] = v.cells[r][c]
		}
	}
	v.cells = next
	v.prev = makeGrid(rows, cols)
	v.rows, v.cols = rows, cols
}

// WriteLine paints text (with an optional leading SGR attr string, reset at
// line end) starting at (row, 0), truncating or space-padding to width.
func (v *VTerm) WriteLine(row int, attr, text string) {
	if row < 0 || row >= v.rows {
		return
	}
	runes := []rune(text)
	for c := 0; c < v.cols; c++ {
		if c < len(runes) {
			v.cells[row][c] = cell{r: runes[c], attr: attr}
		} else {
			v.cells[row][c] = cell{r: ' '}
		}
	}
}

// Diff renders only the rows that changed since the last Diff call,
// returning escape sequences that move the cursor to each dirty row and
// rewrite it; it then adopts the current grid as the new baseline.
func (v *VTerm) Diff() string {
	var sb strings.Builder
	for r := 0; r < v.rows; r++ {
		if rowEqual(v.cells[r], v.prev[r]) {
			continue
		}
		sb.WriteString(cursorTo(r))
		sb.WriteString(clearLine)
		sb.WriteString(renderRow(v.cells[r]))
		copy(v.prev[r], v.cells[r])
	}
	return sb.String()
}

func rowEqual(a, b []cell) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func renderRow(row []cell) string {
	var sb strings.Builder
	lastAttr := ""
	for _, c := range row {
		if c.attr != lastAttr {
			if lastAttr != "" {
				sb.WriteString(ansiReset)
			}
			if c.attr != "" {
				sb.WriteString(c.attr)
			}
			lastAttr = c.attr
		}
		sb.WriteRune(c.r)
	}
	if lastAttr != "" {
		sb.WriteString(ansiReset)
	}
	return strings.TrimRight(sb.String(), " ")
}

const (
	ansiReset = "\x1b[0m"
	clearLine = "\x1b[2K"

	ColorActive      = "\x1b[38;2;0;128;157m"
	ColorCompleted   = "\x1b[38;2;112;138;88m"
	ColorFailed      = "\x1b[38;5;160m"
	ColorInteractive = "\x1b[38;2;255;215;0m"
	ColorHierarchy   = "\x1b[38;5;242m"
)

func cursorTo(row int) string {
	return "\x1b[" + itoa(row+1) + ";1H"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
