package pitch

import (
	"errors"
	"fmt"

	"dieseq/rational"
)

// DefaultDivision is 31-EDO.
const DefaultDivision = 31

// Tuning defines the step grid and the reference frequency.
type Tuning struct {
	Division    int            `json:"division" yaml:"division"`
	ReferenceHz rational.Rat   `json:"reference_hz" yaml:"reference_hz"`
	Scale       []rational.Rat `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// DefaultTuning is 31-EDO over A0 (27.5 Hz, MIDI key 21).
func DefaultTuning() Tuning {
	return EDO(DefaultDivision)
}

// EDO returns an n-step equal division of the octave over A0.
func EDO(n int) Tuning {
	return Tuning{
		Division:    n,
		ReferenceHz: rational.New(55, 2),
	}
}

// Validate checks the tuning's invariants.
func (t Tuning) Validate() error {
	if len(t.Scale) == 0 && t.Division <= 0 {
		return fmt.Errorf("tuning: division must be positive, got %d", t.Division)
	}
	if !t.ReferenceHz.Positive() {
		return fmt.Errorf("tuning: reference must be positive, got %s Hz", t.ReferenceHz)
	}
	if len(t.Scale) > 0 {
		if !t.Scale[0].IsZero() {
			return errors.New("tuning: scale must start at 0")
		}
		for i := 1; i < len(t.Scale); i++ {
			if !t.Scale[i-1].Less(t.Scale[i]) {
				return errors.New("tuning: scale degrees must ascend")
			}
		}
		if !t.Scale[len(t.Scale)-1].Less(rational.Int(1)) {
			return errors.New("tuning: scale degrees must stay below one octave")
		}
	}
	return nil
}

func (t Tuning) division() int {
	if t.Division <= 0 {
		return DefaultDivision
	}
	return t.Division
}

// StepsPerOctave is the number of grid rows in one octave.
func (t Tuning) StepsPerOctave() int {
	if len(t.Scale) > 0 {
		return len(t.Scale)
	}
	return t.division()
}

// Grid returns the quantization grid of the tuning.
func (t Tuning) Grid() Grid {
	if len(t.Scale) > 0 {
		return ScaleGrid{Degrees: t.Scale}
	}
	return EqualGrid{Division: t.division()}
}

// PitchAt returns the pitch of integer step k.
func (t Tuning) PitchAt(k int64) Pitch {
	return FromSteps(rational.Int(k), t)
}

func (t Tuning) scaleStep(k int64) Pitch {
	n := int64(len(t.Scale))
	octave := k / n
	idx := k % n
	if idx < 0 {
		idx += n
		octave--
	}
	return Pitch{oct: rational.Int(octave).Add(t.Scale[idx])}
}

// StepOf returns the integer step index of p and whether p lies exactly on
// the grid.
func (t Tuning) StepOf(p Pitch) (int64, bool) {
	if len(t.Scale) == 0 {
		steps := p.oct.MulInt(int64(t.division()))
		return steps.Floor(), steps.IsInt()
	}
	octave := p.oct.Floor()
	frac := p.oct.Sub(rational.Int(octave))
	n := int64(len(t.Scale))
	for i := len(t.Scale) - 1; i >= 0; i-- {
		if t.Scale[i].LessEq(frac) {
			return octave*n + int64(i), t.Scale[i].Equal(frac)
		}
	}
	return octave * n, false
}

// NearestStep returns the index of the grid step closest to p.
func (t Tuning) NearestStep(p Pitch) int64 {
	k, _ := t.StepOf(Quantize(p, t.Grid()))
	return k
}

// Interval returns the distance from step `from` to step `from+steps` in
// octaves. For equal tunings it does not depend on `from`.
func (t Tuning) Interval(from, steps int64) rational.Rat {
	return t.PitchAt(from + steps).Sub(t.PitchAt(from))
}

// Label names p as octave.step, e.g. "4.12", with "+r" for off-grid rests.
func (t Tuning) Label(p Pitch) string {
	k, exact := t.StepOf(p)
	n := int64(t.StepsPerOctave())
	octave, step := k/n, k%n
	if step < 0 {
		step += n
		octave--
	}
	if exact {
		return fmt.Sprintf("%d.%d", octave, step)
	}
	rest := p.Sub(t.PitchAt(k))
	return fmt.Sprintf("%d.%d+%s", octave, step, rest)
}
