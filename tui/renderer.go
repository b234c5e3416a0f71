package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/banksean/devenv/activity"
)

// Renderer owns a VTerm and redraws it from (Model, RenderState) at most
// once per spinner tick, coalescing redraws under event bursts (spec.md
// §4.D: "the renderer coalesces redraws to at most one per tick").
type Renderer struct {
	out   io.Writer
	vterm *VTerm
	dirty bool

	lastPaint time.Time // when Paint last wrote to out
}

func NewRenderer(out io.Writer, rows, cols int) *Renderer {
	return &Renderer{out: out, vterm: NewVTerm(rows, cols)}
}

func (r *Renderer) Resize(rows, cols int) {
	r.vterm.Resize(rows, cols)
	r.dirty = true
}

// MarkDirty records that the model or spinner changed since the last paint;
// Paint is a no-op when nothing is dirty, and defers a dirty redraw until a
// full spinner tick has passed since the previous one.
func (r *Renderer) MarkDirty() { r.dirty = true }

// Paint redraws the active-activity list, following spec.md §4.D ordering:
// roots in arrival order, one line per open (non-Done) root activity (child
// activities are not drawn), newest
// completions dropped from view immediately (the Complete transition itself
// is what removes them from this list — summary counts remain in Model).
func (r *Renderer) Paint(m *Model, rs *RenderState, now time.Time) {
	if !r.dirty {
		return
	}
	if !r.lastPaint.IsZero() && now.Sub(r.lastPaint) < spinnerTick {
		return // coalesce: the dirty flag carries over to the next Paint
	}
	r.lastPaint = now
	r.dirty = false

	row := 0
	for _, id := range m.Roots {
		row = r.paintActivity(m, rs, id, row, 0)
	}
	r.paintSummary(m, row)

	if _, err := io.WriteString(r.out, r.vterm.Diff()); err != nil {
		return
	}
}

func (r *Renderer) paintActivity(m *Model, rs *RenderState, id uint64, row, depth int) int {
	a := m.Activities[id]
	if a == nil || a.Done {
		return row
	}

	selected := rs.SelectedActivity != nil && *rs.SelectedActivity == id
	attr := ColorActive
	if selected {
		attr = ColorInteractive
	}

	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}

	line := fmt.Sprintf("%s%s %s", indent, rs.Spinner(), activityLabel(a))
	r.vterm.WriteLine(row, attr, line)
	row++

	if selected && rs.ShowDetails && len(a.Log) > 0 {
		logs := a.Log
		if !rs.ShowExpandedLogs && len(logs) > 5 {
			logs = logs[len(logs)-5:]
		}
		for _, line := range logs {
			r.vterm.WriteLine(row, ColorHierarchy, indent+"  "+line)
			row++
		}
	}

	return row
}

func activityLabel(a *ActivityState) string {
	label := a.Name
	if a.Phase != "" {
		label = fmt.Sprintf("%s [%s]", label, a.Phase)
	}
	if a.Kind == activity.KindFetch {
		return fmt.Sprintf("%s (%d bytes, %.1f KB/s)", label, a.ProgressDone, a.TransferRate/1024)
	}
	if a.ProgressExpected != nil && *a.ProgressExpected > 0 {
		return fmt.Sprintf("%s (%d/%d)", label, a.ProgressDone, *a.ProgressExpected)
	}
	return label
}

func (r *Renderer) paintSummary(m *Model, row int) {
	succeeded, failed := 0, 0
	for k, n := range m.Summary {
		switch k.Outcome {
		case activity.OutcomeSuccess, activity.OutcomeCached:
			succeeded += n
		case activity.OutcomeFailed, activity.OutcomeDependencyFailed:
			failed += n
		}
	}
	attr := ColorCompleted
	if failed > 0 {
		attr = ColorFailed
	}
	r.vterm.WriteLine(row, attr, fmt.Sprintf("%d done, %d failed", succeeded, failed))
}

// PaintStatusLine draws the reserved shell-session status row at rows-1,
// the last row, which the PTY session's scroll region leaves out so shell
// output cannot scroll over it (spec.md §4.D/§4.F).
func (r *Renderer) PaintStatusLine(state StatusLineState, detail string, rs *RenderState) {
	row := r.vterm.rows - 1
	attr := ColorActive
	text := fmt.Sprintf(" %s ", state)
	switch state {
	case StatusBuildFailed:
		attr = ColorFailed
	case StatusReloadReady:
		attr = ColorCompleted
	case StatusPaused:
		attr = ColorHierarchy
	}
	if detail != "" {
		text += "- " + detail
	}
	r.vterm.WriteLine(row, attr, text)
	r.dirty = true
}
