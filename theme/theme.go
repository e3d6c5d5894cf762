package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	// Piano roll cells
	Empty        rune // ' ' nothing
	BeatLine     rune // ┆ beat boundary
	BarLine      rune // │ bar boundary
	OctaveLine   rune // ─ first step of an octave
	NoteHead     rune // ▐ first cell of a note
	NoteBody     rune // █ rest of a note
	Playhead     rune // ┃ transport position
	SelectBorder rune // · rubber band

	// Ruler
	LoopSpan rune // ═ inside the loop
	Tick     rune // ╵ beat mark
}

func New(palette *Palette) *Theme {
	if palette == nil {
		palette = Default()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			Empty:        ' ',
			BeatLine:     '┆',
			BarLine:      '│',
			OctaveLine:   '─',
			NoteHead:     '▐',
			NoteBody:     '█',
			Playhead:     '┃',
			SelectBorder: '·',

			LoopSpan: '═',
			Tick:     '╵',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleSurface = 0.1
	RoleMuted   = 0.2
	RoleFG      = 0.4
	RoleAccent  = 0.5
	RoleCursor  = 0.6
	RoleActive  = 0.7
	RoleWarning = 0.8
	RoleSuccess = 1.0
)

// Role colours

func (t *Theme) BG() lipgloss.Color      { return t.Color(RoleBG) }
func (t *Theme) Surface() lipgloss.Color { return t.Color(RoleSurface) }
func (t *Theme) FG() lipgloss.Color      { return t.Color(RoleFG) }
func (t *Theme) Accent() lipgloss.Color  { return t.Color(RoleAccent) }
func (t *Theme) Muted() lipgloss.Color   { return t.Color(RoleMuted) }
func (t *Theme) Active() lipgloss.Color  { return t.Color(RoleActive) }
func (t *Theme) Cursor() lipgloss.Color  { return t.Color(RoleCursor) }
func (t *Theme) Warning() lipgloss.Color { return t.Color(RoleWarning) }
func (t *Theme) Success() lipgloss.Color { return t.Color(RoleSuccess) }

// Color returns the palette colour at a normalized position 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	c := t.Palette.Lookup(norm)
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}

// PitchClass colours a position within the octave (0-1), skipping the dark
// end of the palette so notes stay visible
func (t *Theme) PitchClass(frac float64) lipgloss.Color {
	return t.Color(RoleFG + frac*(1-RoleFG))
}
