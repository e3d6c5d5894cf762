package widgets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dieseq/rational"
	"dieseq/theme"
	"dieseq/timeline"
	"dieseq/tool"
)

func r(s string) rational.Rat { return rational.MustParse(s) }

// rows returns the rendered lines as runes with the gutter removed. Tests run
// without a terminal so lipgloss emits no colour codes.
func rows(t *testing.T, out string) [][]rune {
	t.Helper()
	var res [][]rune
	for _, line := range strings.Split(out, "\n") {
		rs := []rune(line)
		require.GreaterOrEqual(t, len(rs), GutterWidth)
		res = append(res, rs[GutterWidth:])
	}
	return res
}

func view() tool.Viewport {
	return tool.Viewport{Top: 130, PxPerBeat: 4, PxPerStep: 1}
}

func TestRenderDrawsNotesOnTheirRows(t *testing.T) {
	store := timeline.NewStore(nil)
	tun := store.Tuning()
	a := store.AddNote(r("1"), r("1/2"), tun.PitchAt(128))
	store.AddNote(r("3"), r("1"), tun.PitchAt(124))
	store.Select([]timeline.NoteID{a}, timeline.Replace)

	st := Capture(store)
	st.Position = r("1/4")
	out := PianoRoll{Theme: theme.New(nil)}.Render(st, view(), GutterWidth+24, RulerHeight+10)

	lines := rows(t, out)
	require.Len(t, lines, 11)
	roll := lines[RulerHeight:]

	// step 128 is two rows under the top
	assert.Equal(t, "▐█", string(roll[2][4:6]))
	assert.Equal(t, "▐███", string(roll[6][12:16]))
	for _, row := range roll {
		assert.Equal(t, '┃', row[1])
	}
	assert.Equal(t, '▼', lines[0][1])
}

func TestRenderGridAndRuler(t *testing.T) {
	store := timeline.NewStore(nil)
	require.NoError(t, store.SetLoop(r("1"), r("2")))

	st := Capture(store)
	st.Position = r("100")
	out := PianoRoll{Theme: theme.New(nil)}.Render(st, view(), GutterWidth+24, RulerHeight+3)
	lines := rows(t, out)

	ruler := lines[0]
	assert.Equal(t, '1', ruler[0])
	assert.Equal(t, '═', ruler[5])
	assert.Equal(t, '╵', ruler[8])
	assert.Equal(t, '2', ruler[16])

	row := lines[1]
	assert.Equal(t, '│', row[0])
	assert.Equal(t, '┆', row[4])
	assert.Equal(t, ' ', row[2])
}

func TestRenderOctaveLabelInGutter(t *testing.T) {
	store := timeline.NewStore(nil)
	v := view()
	v.Top = 125 // row 1 is step 124, the start of octave 4
	out := PianoRoll{Theme: theme.New(nil)}.Render(Capture(store), v, GutterWidth+8, RulerHeight+3)

	lines := strings.Split(out, "\n")
	assert.Contains(t, lines[RulerHeight+1], "4.0")
	assert.Equal(t, '─', []rune(lines[RulerHeight+1])[GutterWidth+1])
}

func TestRenderSelectionRect(t *testing.T) {
	store := timeline.NewStore(nil)
	st := Capture(store)
	st.Position = r("100")
	st.Rect = &tool.Rect{Min: tool.Point{X: 6, Y: 3}, Max: tool.Point{X: 2, Y: 1}}
	out := PianoRoll{Theme: theme.New(nil)}.Render(st, view(), GutterWidth+10, RulerHeight+5)
	roll := rows(t, out)[RulerHeight:]

	assert.Equal(t, "·····", string(roll[1][2:7]))
	assert.Equal(t, '·', roll[2][2])
	assert.Equal(t, '·', roll[2][6])
	assert.NotEqual(t, '·', roll[2][3])
}

func TestRenderTooSmall(t *testing.T) {
	out := PianoRoll{Theme: theme.New(nil)}.Render(RollState{}, view(), GutterWidth, 5)
	assert.Empty(t, out)
}
