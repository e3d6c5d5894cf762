package tool

import (
	"math"

	"dieseq/pitch"
	"dieseq/rational"
)

// Point is a position in view cells, origin top-left
type Point struct {
	X, Y int
}

// Viewport maps view cells to timeline coordinates. It only affects what is
// shown, never the timeline.
type Viewport struct {
	Left      rational.Rat // beat at x = 0
	Top       int64        // grid step shown on row 0
	PxPerBeat float64      // horizontal zoom, cells per beat
	PxPerStep int          // vertical zoom, rows per grid step
}

const (
	minPxPerBeat = 1
	maxPxPerBeat = 256
	maxPxPerStep = 4

	// ZoomFactor scales PxPerBeat per scroll notch
	ZoomFactor = 1.07
)

// DefaultViewport starts at beat 0 with A4 roughly in the middle of a
// 31-EDO grid
func DefaultViewport() Viewport {
	return Viewport{
		Top:       4*pitch.DefaultDivision + 12,
		PxPerBeat: 8,
		PxPerStep: 1,
	}
}

func (v Viewport) pxPerBeat() float64 {
	if v.PxPerBeat <= 0 {
		return 8
	}
	return v.PxPerBeat
}

func (v Viewport) pxPerStep() int {
	if v.PxPerStep <= 0 {
		return 1
	}
	return v.PxPerStep
}

// beatsPerPx is the width of one cell in beats
func (v Viewport) beatsPerPx() rational.Rat {
	return rational.Int(1).Quo(rational.FromFloat(v.pxPerBeat()))
}

// TimeAt is the beat at the left edge of column x
func (v Viewport) TimeAt(x int) rational.Rat {
	return v.Left.Add(rational.Int(int64(x)).Mul(v.beatsPerPx()))
}

// Span converts a width in cells to beats
func (v Viewport) Span(px int) rational.Rat {
	return rational.Int(int64(px)).Mul(v.beatsPerPx())
}

// StepAt is the grid step on row y
func (v Viewport) StepAt(y int) int64 {
	q := y / v.pxPerStep()
	if y < 0 && y%v.pxPerStep() != 0 {
		q--
	}
	return v.Top - int64(q)
}

// XOf is the column containing beat t
func (v Viewport) XOf(t rational.Rat) int {
	return int(math.Floor(t.Sub(v.Left).Float64() * v.pxPerBeat()))
}

// YOf is the first row of grid step k
func (v Viewport) YOf(k int64) int {
	return int(v.Top-k) * v.pxPerStep()
}

// ZoomTime scales horizontally by ZoomFactor^notches, keeping column x fixed
func (v *Viewport) ZoomTime(x int, notches int) {
	anchor := v.TimeAt(x)
	px := v.pxPerBeat() * math.Pow(ZoomFactor, float64(notches))
	v.PxPerBeat = max(minPxPerBeat, min(maxPxPerBeat, px))
	v.Left = anchor.Sub(v.Span(x))
	if v.Left.Negative() {
		v.Left = rational.Rat{}
	}
}

// ZoomPitch changes the rows per step, keeping row y on the same step
func (v *Viewport) ZoomPitch(y int, notches int) {
	anchor := v.StepAt(y)
	v.PxPerStep = max(1, min(maxPxPerStep, v.pxPerStep()+notches))
	v.Top = anchor + int64(y/v.PxPerStep)
}

// Pan shifts the view by a cell offset relative to from
func (v *Viewport) Pan(from Viewport, dx, dy int) {
	v.Left = from.Left.Sub(from.Span(dx))
	if v.Left.Negative() {
		v.Left = rational.Rat{}
	}
	v.Top = from.Top + int64(dy/from.pxPerStep())
}
