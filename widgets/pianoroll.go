package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/theme"
	"dieseq/timeline"
	"dieseq/tool"
)

const (
	// RulerHeight is the number of lines above the first roll row
	RulerHeight = 1
	// GutterWidth is the number of columns left of the first roll column
	GutterWidth = 8

	beatsPerBar = 4
)

// RollState is what the piano roll draws, captured in one store read
type RollState struct {
	Notes    []timeline.Note
	Tuning   pitch.Tuning
	Loop     timeline.Loop
	Position rational.Rat
	Rect     *tool.Rect // rubber band in roll cells, nil when not selecting
}

// Capture copies the notes and settings out of the store
func Capture(store *timeline.Store) RollState {
	var st RollState
	store.Read(func(tl *timeline.Timeline) {
		st.Tuning = tl.Tuning
		st.Loop = tl.Loop
		st.Notes = make([]timeline.Note, 0, tl.Len())
		for _, n := range tl.Notes() {
			st.Notes = append(st.Notes, *n)
		}
	})
	return st
}

// cell is one rune with its foreground; an empty color is unstyled
type cell struct {
	r  rune
	fg lipgloss.Color
}

// PianoRoll renders notes on a time x pitch grid
type PianoRoll struct {
	Theme *theme.Theme
}

// Render draws st through view into a width x height block: a ruler line,
// then one line per row with a pitch label gutter
func (pr PianoRoll) Render(st RollState, view tool.Viewport, width, height int) string {
	cols := width - GutterWidth
	rows := height - RulerHeight
	if cols <= 0 || rows <= 0 {
		return ""
	}
	th := pr.Theme
	sym := th.Symbols

	marks := gridColumns(view, cols)

	grid := make([][]cell, rows)
	for y := range grid {
		grid[y] = make([]cell, cols)
		step := view.StepAt(y)
		octave := isOctaveStart(st.Tuning, step) && y == view.YOf(step)
		for x := range grid[y] {
			c := cell{r: sym.Empty}
			switch {
			case marks[x].bar:
				c = cell{sym.BarLine, th.Muted()}
			case marks[x].beat:
				c = cell{sym.BeatLine, th.Surface()}
			case octave:
				c = cell{sym.OctaveLine, th.Surface()}
			}
			grid[y][x] = c
		}
	}

	if px := view.XOf(st.Position); px >= 0 && px < cols {
		for y := range grid {
			grid[y][px] = cell{sym.Playhead, th.Active()}
		}
	}

	for _, n := range st.Notes {
		pr.drawNote(grid, st.Tuning, view, n)
	}

	if st.Rect != nil {
		drawRect(grid, *st.Rect, cell{sym.SelectBorder, th.Cursor()})
	}

	lines := make([]string, 0, height)
	lines = append(lines, strings.Repeat(" ", GutterWidth)+renderCells(pr.ruler(st, view, marks)))
	for y, row := range grid {
		lines = append(lines, pr.gutter(st.Tuning, view, y)+renderCells(row))
	}
	return strings.Join(lines, "\n")
}

func (pr PianoRoll) drawNote(grid [][]cell, t pitch.Tuning, view tool.Viewport, n timeline.Note) {
	th := pr.Theme
	step := t.NearestStep(n.Pitch)
	y0 := view.YOf(step)
	x0 := view.XOf(n.Start)
	x1 := view.XOf(n.End())
	if x1 <= x0 {
		x1 = x0 + 1
	}

	fg := th.PitchClass(n.Pitch.Octaves().Frac().Float64())
	if n.Selected {
		fg = th.Cursor()
	}

	for y := y0; y < y0+max(view.PxPerStep, 1); y++ {
		if y < 0 || y >= len(grid) {
			continue
		}
		for x := max(x0, 0); x < min(x1, len(grid[y])); x++ {
			r := th.Symbols.NoteBody
			if x == x0 {
				r = th.Symbols.NoteHead
			}
			grid[y][x] = cell{r, fg}
		}
	}
}

func drawRect(grid [][]cell, rect tool.Rect, c cell) {
	x0, x1 := min(rect.Min.X, rect.Max.X), max(rect.Min.X, rect.Max.X)
	y0, y1 := min(rect.Min.Y, rect.Max.Y), max(rect.Min.Y, rect.Max.Y)
	set := func(x, y int) {
		if y >= 0 && y < len(grid) && x >= 0 && x < len(grid[y]) {
			grid[y][x] = c
		}
	}
	for x := x0; x <= x1; x++ {
		set(x, y0)
		set(x, y1)
	}
	for y := y0; y <= y1; y++ {
		set(x0, y)
		set(x1, y)
	}
}

// mark is the beat boundary inside a column, if any
type mark struct {
	beat bool
	bar  bool
	n    int64 // beat number
}

// gridColumns finds the beat and bar boundaries of each column
func gridColumns(view tool.Viewport, cols int) []mark {
	marks := make([]mark, cols)
	for x := range cols {
		lo, hi := view.TimeAt(x), view.TimeAt(x+1)
		b := lo.Floor()
		if !lo.IsInt() {
			b++
		}
		if rational.Int(b).Less(hi) {
			marks[x] = mark{beat: true, bar: b%beatsPerBar == 0, n: b}
		}
	}
	return marks
}

func isOctaveStart(t pitch.Tuning, step int64) bool {
	n := int64(t.StepsPerOctave())
	return ((step%n)+n)%n == 0
}

func (pr PianoRoll) ruler(st RollState, view tool.Viewport, marks []mark) []cell {
	th := pr.Theme
	cols := len(marks)
	out := make([]cell, cols)
	for x := range out {
		out[x] = cell{r: ' '}
		t := view.TimeAt(x)
		if st.Loop.Enabled && st.Loop.Start.LessEq(t) && t.Less(st.Loop.End) {
			out[x] = cell{th.Symbols.LoopSpan, th.Accent()}
		}
		if marks[x].beat && !marks[x].bar {
			out[x] = cell{th.Symbols.Tick, th.Muted()}
		}
	}
	// bar numbers, skipped where they would overlap the previous one
	next := 0
	for x := range out {
		if !marks[x].bar || x < next {
			continue
		}
		label := fmt.Sprint(marks[x].n/beatsPerBar + 1)
		for i, r := range label {
			if x+i < cols {
				out[x+i] = cell{r, th.FG()}
			}
		}
		next = x + len(label) + 1
	}
	if px := view.XOf(st.Position); px >= 0 && px < cols {
		out[px] = cell{'▼', th.Active()}
	}
	return out
}

func (pr PianoRoll) gutter(t pitch.Tuning, view tool.Viewport, y int) string {
	step := view.StepAt(y)
	label := ""
	if y == view.YOf(step) && (isOctaveStart(t, step) || y == 0) {
		label = t.Label(t.PitchAt(step))
	}
	if len(label) > GutterWidth-1 {
		label = label[:GutterWidth-1]
	}
	style := lipgloss.NewStyle().Foreground(pr.Theme.Muted())
	return style.Render(fmt.Sprintf("%*s", GutterWidth-1, label)) + " "
}

// renderCells styles runs of equal colour together
func renderCells(cells []cell) string {
	var out strings.Builder
	var run strings.Builder
	var fg lipgloss.Color
	flush := func() {
		if run.Len() == 0 {
			return
		}
		if fg == "" {
			out.WriteString(run.String())
		} else {
			out.WriteString(lipgloss.NewStyle().Foreground(fg).Render(run.String()))
		}
		run.Reset()
	}
	for _, c := range cells {
		if c.fg != fg {
			flush()
			fg = c.fg
		}
		run.WriteRune(c.r)
	}
	flush()
	return out.String()
}
