package pitch

import (
	"fmt"
	"math"
)

// Repr is a pitch as an output device understands it.
type Repr struct {
	Key  int
	Bend int16
}

// Encoder maps a pitch to an output representation. Encoders are pure.
type Encoder interface {
	Encode(p Pitch) (Repr, error)
}

// DefaultBendRange is the usual synth pitch-bend range in semitones.
const DefaultBendRange = 2

// MIDIEncoder maps a pitch to the nearest MIDI key plus a 14-bit signed
// pitch-bend offset covering the remainder.
type MIDIEncoder struct {
	Tuning    Tuning
	BendRange float64
}

func (e MIDIEncoder) Encode(p Pitch) (Repr, error) {
	ref := e.Tuning.ReferenceHz.Float64()
	if ref <= 0 {
		return Repr{}, fmt.Errorf("encode %s: reference %v Hz: %w", p, ref, ErrOutOfRange)
	}
	semis := 69 + 12*math.Log2(ref/440) + 12*p.oct.Float64()
	key := math.Round(semis)
	if key < 0 || key > 127 {
		return Repr{}, fmt.Errorf("encode %s: midi key %v: %w", p, key, ErrOutOfRange)
	}

	rng := e.BendRange
	if rng <= 0 {
		rng = DefaultBendRange
	}
	bend := math.Round((semis - key) / rng * 8192)
	bend = max(-8192, min(8191, bend))
	return Repr{Key: int(key), Bend: int16(bend)}, nil
}

// StepEncoder maps a pitch to its absolute grid step for synths that are
// tuned to the same grid. Only on-grid pitches in
// [0, Octaves*StepsPerOctave) encode.
type StepEncoder struct {
	Tuning  Tuning
	Octaves int
}

func (e StepEncoder) Encode(p Pitch) (Repr, error) {
	k, exact := e.Tuning.StepOf(p)
	if !exact {
		return Repr{}, fmt.Errorf("encode %s: off grid: %w", p, ErrOutOfRange)
	}
	octaves := e.Octaves
	if octaves <= 0 {
		octaves = 8
	}
	if k < 0 || k >= int64(octaves*e.Tuning.StepsPerOctave()) {
		return Repr{}, fmt.Errorf("encode %s: step %d: %w", p, k, ErrOutOfRange)
	}
	return Repr{Key: int(k)}, nil
}
