// Package pitch models microtonal pitch as an exact number of octaves above a
// tuning's reference frequency.
package pitch

import (
	"errors"
	"math"

	"dieseq/rational"
)

// ErrOutOfRange means a pitch cannot be represented by an output encoder.
var ErrOutOfRange = errors.New("pitch out of range")

// Pitch is an exact rational number of octaves above the reference. The zero
// value is the reference pitch itself.
type Pitch struct {
	oct rational.Rat
}

// FromOctaves returns the pitch o octaves above the reference.
func FromOctaves(o rational.Rat) Pitch {
	return Pitch{oct: o}
}

// FromSteps returns the pitch n grid steps above the reference of t.
func FromSteps(n rational.Rat, t Tuning) Pitch {
	if len(t.Scale) == 0 {
		return Pitch{oct: n.Quo(rational.Int(int64(t.division())))}
	}
	return t.scaleStep(n.Floor())
}

// Transpose moves p by delta octaves. It is exact, so
// Transpose(Transpose(p, d), d.Neg()) == p.
func Transpose(p Pitch, delta rational.Rat) Pitch {
	return Pitch{oct: p.oct.Add(delta)}
}

// Octaves returns the pitch as octaves above the reference.
func (p Pitch) Octaves() rational.Rat { return p.oct }

// Sub returns the interval p - o in octaves.
func (p Pitch) Sub(o Pitch) rational.Rat { return p.oct.Sub(o.oct) }

func (p Pitch) Cmp(o Pitch) int    { return p.oct.Cmp(o.oct) }
func (p Pitch) Equal(o Pitch) bool { return p.oct.Equal(o.oct) }
func (p Pitch) Less(o Pitch) bool  { return p.oct.Less(o.oct) }
func (p Pitch) String() string     { return p.oct.String() }

func (p Pitch) MarshalText() ([]byte, error) { return p.oct.MarshalText() }

func (p *Pitch) UnmarshalText(text []byte) error { return p.oct.UnmarshalText(text) }

func (p *Pitch) UnmarshalJSON(data []byte) error { return p.oct.UnmarshalJSON(data) }

// Frequency returns the pitch in Hz. It is for display only.
func Frequency(p Pitch, t Tuning) float64 {
	return t.ReferenceHz.Float64() * math.Pow(2, p.oct.Float64())
}

// Quantize snaps p to the nearest point of g. When p sits exactly between two
// grid points the one with the smaller magnitude wins.
func Quantize(p Pitch, g Grid) Pitch {
	lo, hi := g.Bracket(p)
	return Pitch{oct: rational.Nearest(p.oct, lo.oct, hi.oct)}
}

// Grid is a set of allowed pitches.
type Grid interface {
	// Bracket returns the grid points at or below and at or above p.
	Bracket(p Pitch) (below, above Pitch)
}

// EqualGrid divides every octave into Division equal steps.
type EqualGrid struct {
	Division int
}

func (g EqualGrid) Bracket(p Pitch) (Pitch, Pitch) {
	step := rational.New(1, int64(g.Division))
	lo := p.oct.Quo(step).FloorRat().Mul(step)
	if lo.Equal(p.oct) {
		return p, p
	}
	return Pitch{oct: lo}, Pitch{oct: lo.Add(step)}
}

// ScaleGrid repeats a table of octave fractions every octave. Degrees are
// ascending, start at 0 and stay below 1.
type ScaleGrid struct {
	Degrees []rational.Rat
}

func (g ScaleGrid) Bracket(p Pitch) (Pitch, Pitch) {
	octave := p.oct.FloorRat()
	frac := p.oct.Sub(octave)

	i := 0
	for i+1 < len(g.Degrees) && g.Degrees[i+1].LessEq(frac) {
		i++
	}
	lo := octave.Add(g.Degrees[i])
	if lo.Equal(p.oct) {
		return p, p
	}
	hi := octave.Add(rational.Int(1))
	if i+1 < len(g.Degrees) {
		hi = octave.Add(g.Degrees[i+1])
	}
	return Pitch{oct: lo}, Pitch{oct: hi}
}
