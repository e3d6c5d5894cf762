// Package tool turns pointer and keyboard events into timeline edits.
package tool

import (
	"fmt"
	"slices"

	"dieseq/debug"
	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/timeline"
)

// Kind is the active editing tool
type Kind int

const (
	Arrow Kind = iota
	Pencil
)

func (k Kind) String() string {
	if k == Pencil {
		return "pencil"
	}
	return "arrow"
}

// DragKind says what a drag does
type DragKind int

const (
	DrawNew DragKind = iota + 1
	MoveSelection
	ResizeNote
	RectSelect
	Pan
)

// Transport is the playback control the editor drives
type Transport interface {
	Toggle()
	Seek(pos rational.Rat)
	Playing() bool
}

// Saver persists the current document
type Saver interface {
	Save() error
}

// Rect is a rubber-band selection in cells, inclusive of both corners
type Rect struct {
	Min, Max Point
}

type drag struct {
	kind   DragKind
	origin Point
	moved  bool

	// MoveSelection
	ids      []NoteID
	minStart rational.Rat
	baseStep int64
	dt, dp   rational.Rat // applied so far

	// ResizeNote and DrawNew
	note NoteID

	// RectSelect
	base []NoteID
	rect Rect

	// Pan
	view Viewport
}

// NoteID is re-exported for callers that only import tool
type NoteID = timeline.NoteID

// Editor is the tool state machine. It is Idle when no drag is active.
// Editor is not safe for concurrent use; the store it edits is.
type Editor struct {
	store     *timeline.Store
	transport Transport
	saver     Saver

	View       Viewport
	Tool       Kind
	Grid       rational.Rat // time snap in beats
	NoteLength rational.Rat // pencil default
	EdgePx     int          // resize handle tolerance in cells
	Velocity   int          // for drawn notes, 0 keeps the store default
	TempoStep  int

	drag   *drag
	Status string
}

// NewEditor returns an idle arrow-tool editor
func NewEditor(store *timeline.Store, transport Transport, saver Saver) *Editor {
	return &Editor{
		store:      store,
		transport:  transport,
		saver:      saver,
		View:       DefaultViewport(),
		Tool:       Arrow,
		Grid:       rational.New(1, 4),
		NoteLength: rational.New(1, 2),
		EdgePx:     1,
		TempoStep:  5,
	}
}

// Dragging reports the active drag kind; ok is false when Idle
func (e *Editor) Dragging() (DragKind, bool) {
	if e.drag == nil {
		return 0, false
	}
	return e.drag.kind, true
}

// SelectionRect returns the rubber band while a rect select is active
func (e *Editor) SelectionRect() (Rect, bool) {
	if e.drag == nil || e.drag.kind != RectSelect || !e.drag.moved {
		return Rect{}, false
	}
	return e.drag.rect, true
}

// Handle applies one input event
func (e *Editor) Handle(ev Event) {
	switch ev := ev.(type) {
	case PointerDown:
		e.pointerDown(ev)
	case PointerMove:
		e.pointerMove(ev)
	case PointerUp:
		e.pointerUp(ev)
	case Scroll:
		e.scroll(ev)
	case Key:
		e.key(ev)
	}
}

func (e *Editor) snap(t rational.Rat) rational.Rat {
	if !e.Grid.Positive() {
		return t
	}
	return rational.Snap(t, e.Grid)
}

func (e *Editor) tuning() pitch.Tuning {
	return e.store.Tuning()
}

// rowRange is the pitch span covered by the rows between y0 and y1
func (e *Editor) rowRange(y0, y1 int) timeline.PitchRange {
	t := e.tuning()
	hi, lo := e.View.StepAt(min(y0, y1)), e.View.StepAt(max(y0, y1))
	return timeline.PitchRange{Low: t.PitchAt(lo), High: t.PitchAt(hi + 1)}
}

// hit finds the note under p and whether p is on its resize edge. The most
// recently created note wins when notes overlap.
func (e *Editor) hit(p Point) (id NoteID, edge, ok bool) {
	t := e.View.TimeAt(p.X)
	cell := e.View.Span(1)
	tol := e.View.Span(max(e.EdgePx, 0))
	tr := timeline.TimeRange{Start: t.Sub(tol), End: t.Add(cell).Add(tol)}

	var best *timeline.Note
	bestEdge := false
	for nid := range e.store.NotesInRect(tr, e.rowRange(p.Y, p.Y)) {
		n, found := e.store.NoteAt(nid)
		if !found {
			continue
		}
		end := n.End()
		inside := n.Start.Less(t.Add(cell)) && t.Less(end)
		// the first cell of a note always grabs it for moving
		onEdge := end.Sub(tol).LessEq(t) && t.Less(end.Add(tol)) && !(inside && t.LessEq(n.Start))
		if !onEdge && !inside {
			continue
		}
		if best == nil || onEdge && !bestEdge || onEdge == bestEdge && n.ID > best.ID {
			cp := n
			best, bestEdge = &cp, onEdge
		}
	}
	if best == nil {
		return 0, false, false
	}
	return best.ID, bestEdge, true
}

func (e *Editor) pointerDown(ev PointerDown) {
	if e.drag != nil {
		return
	}
	switch ev.Button {
	case ButtonRight, ButtonMiddle:
		e.drag = &drag{kind: Pan, origin: ev.Pos, view: e.View}
		return
	case ButtonLeft:
	default:
		return
	}

	if e.Tool == Pencil {
		e.draw(ev)
		return
	}

	id, edge, ok := e.hit(ev.Pos)
	switch {
	case ok && edge:
		e.drag = &drag{kind: ResizeNote, origin: ev.Pos, note: id}
	case ok:
		n, _ := e.store.NoteAt(id)
		switch {
		case ev.Mods.Has(Shift):
			e.store.Select([]NoteID{id}, timeline.Toggle)
		case !n.Selected:
			e.store.Select([]NoteID{id}, timeline.Replace)
		}
		e.startMove(ev.Pos, n)
	default:
		d := &drag{kind: RectSelect, origin: ev.Pos, rect: Rect{ev.Pos, ev.Pos}}
		if ev.Mods.Has(Shift) {
			d.base = e.store.Selection()
		}
		e.drag = d
	}
}

func (e *Editor) startMove(origin Point, grabbed timeline.Note) {
	ids := e.store.Selection()
	if len(ids) == 0 {
		e.drag = nil
		return
	}
	var minStart rational.Rat
	e.store.Read(func(tl *timeline.Timeline) {
		for i, id := range ids {
			n, _ := tl.Note(id)
			if i == 0 || n.Start.Less(minStart) {
				minStart = n.Start
			}
		}
	})
	step, _ := e.tuning().StepOf(grabbed.Pitch)
	e.drag = &drag{
		kind:     MoveSelection,
		origin:   origin,
		ids:      ids,
		minStart: minStart,
		baseStep: step,
	}
}

func (e *Editor) draw(ev PointerDown) {
	t := e.snap(e.View.TimeAt(ev.Pos.X))
	if t.Negative() {
		t = rational.Rat{}
	}
	p := e.tuning().PitchAt(e.View.StepAt(ev.Pos.Y))
	id := e.store.AddNote(t, e.NoteLength, p)
	if e.Velocity > 0 {
		e.store.SetVelocity([]NoteID{id}, e.Velocity)
	}
	e.store.Select([]NoteID{id}, timeline.Replace)
	e.drag = &drag{kind: DrawNew, origin: ev.Pos, note: id}
	debug.Log("tool", "draw note %d at %s pitch %s", id, t, p)
}

func (e *Editor) pointerMove(ev PointerMove) {
	d := e.drag
	if d == nil {
		return
	}
	if ev.Pos != d.origin {
		d.moved = true
	}

	switch d.kind {
	case MoveSelection:
		e.moveTo(ev.Pos)
	case ResizeNote, DrawNew:
		e.resizeTo(ev.Pos)
	case RectSelect:
		e.rectTo(ev.Pos)
	case Pan:
		e.View.Pan(d.view, ev.Pos.X-d.origin.X, ev.Pos.Y-d.origin.Y)
	}
}

// moveTo applies the offset between the drag origin and p. The group stops
// when its earliest note reaches 0, and only the difference from what is
// already applied is sent, so returning to the origin is exact.
func (e *Editor) moveTo(p Point) {
	d := e.drag
	dt := e.snap(e.View.TimeAt(p.X).Sub(e.View.TimeAt(d.origin.X)))
	dt = rational.Max(dt, d.minStart.Neg())

	rows := e.View.StepAt(p.Y) - e.View.StepAt(d.origin.Y)
	dp := e.tuning().Interval(d.baseStep, rows)

	if dt.Equal(d.dt) && dp.Equal(d.dp) {
		return
	}
	if err := e.store.MoveNotes(d.ids, dt.Sub(d.dt), dp.Sub(d.dp)); err != nil {
		// a selected note was deleted mid-drag; drop the gesture
		debug.Log("tool", "move aborted: %v", err)
		e.drag = nil
		return
	}
	d.dt, d.dp = dt, dp
}

func (e *Editor) resizeTo(p Point) {
	d := e.drag
	n, ok := e.store.NoteAt(d.note)
	if !ok {
		e.drag = nil
		return
	}
	end := e.snap(e.View.TimeAt(p.X))
	dur := end.Sub(n.Start)
	if d.kind == DrawNew && !dur.Positive() {
		dur = e.NoteLength
	}
	// clamped by the store
	_ = e.store.ResizeNote(d.note, dur)
}

func (e *Editor) rectTo(p Point) {
	d := e.drag
	d.rect = Rect{
		Min: Point{min(d.origin.X, p.X), min(d.origin.Y, p.Y)},
		Max: Point{max(d.origin.X, p.X), max(d.origin.Y, p.Y)},
	}
	tr := timeline.TimeRange{
		Start: e.View.TimeAt(d.rect.Min.X),
		End:   e.View.TimeAt(d.rect.Max.X + 1),
	}
	ids := slices.Clone(d.base)
	for id := range e.store.NotesInRect(tr, e.rowRange(d.rect.Min.Y, d.rect.Max.Y)) {
		ids = append(ids, id)
	}
	e.store.Select(ids, timeline.Replace)
}

func (e *Editor) pointerUp(ev PointerUp) {
	d := e.drag
	if d == nil {
		return
	}
	e.drag = nil
	if d.kind == RectSelect && !d.moved {
		e.store.ClearSelection()
		if e.transport != nil {
			pos := e.snap(e.View.TimeAt(ev.Pos.X))
			e.transport.Seek(pos)
			e.Status = fmt.Sprintf("position %s", pos)
		}
	}
}

func (e *Editor) scroll(ev Scroll) {
	if ev.Mods.Has(Ctrl) {
		e.View.ZoomPitch(ev.Pos.Y, ev.Delta)
		return
	}
	e.View.ZoomTime(ev.Pos.X, ev.Delta)
}

// Key names as delivered by the terminal frontend
const (
	KeyDelete    = "d"
	KeyArrow     = "1"
	KeyPencil    = "2"
	KeyPlay      = " "
	KeySave      = "s"
	KeyTempoUp   = "+"
	KeyTempoDown = "-"
	KeyLoop      = "l"
	KeyEscape    = "esc"
	KeyHome      = "home"
	KeyLeft      = "left"
	KeyRight     = "right"
	KeyUp        = "up"
	KeyDown      = "down"
)

func (e *Editor) key(ev Key) {
	if ev.Key == KeyPlay || ev.Key == "space" {
		if e.transport != nil {
			e.transport.Toggle()
		}
		return
	}
	// saving is safe mid-gesture; edits and tool changes wait for the release
	if ev.Key == KeySave {
		e.save()
		return
	}
	if e.drag != nil {
		return
	}

	switch ev.Key {
	case KeyDelete, "delete", "backspace":
		e.store.RemoveNotes(e.store.Selection())
	case KeyArrow:
		e.Tool = Arrow
	case KeyPencil:
		e.Tool = Pencil
	case KeyTempoUp, "=":
		e.nudgeTempo(e.TempoStep)
	case KeyTempoDown, "_":
		e.nudgeTempo(-e.TempoStep)
	case KeyLoop:
		e.toggleLoop()
	case KeyEscape:
		e.store.ClearSelection()
	case KeyHome:
		e.View.Left = rational.Rat{}
		if e.transport != nil {
			e.transport.Seek(rational.Rat{})
		}
	case KeyLeft, KeyRight:
		e.nudgeSelection(ev.Key == KeyRight, 0)
	case KeyUp:
		e.nudgeSelection(false, 1)
	case KeyDown:
		e.nudgeSelection(false, -1)
	}
}

func (e *Editor) save() {
	if e.saver == nil {
		return
	}
	if err := e.saver.Save(); err != nil {
		e.Status = "save failed: " + err.Error()
		debug.Error("save", err, nil)
		return
	}
	e.Status = "saved"
}

// tempo bounds for keyboard nudges
const (
	minTempo = 20
	maxTempo = 300
)

func (e *Editor) nudgeTempo(delta int) {
	bpm := e.store.Tempo().Add(rational.Int(int64(delta)))
	bpm = rational.Max(rational.Int(minTempo), rational.Min(rational.Int(maxTempo), bpm))
	if err := e.store.SetTempo(bpm); err != nil {
		e.Status = err.Error()
		return
	}
	e.Status = fmt.Sprintf("tempo %s", bpm)
}

func (e *Editor) toggleLoop() {
	var start, end rational.Rat
	var ok bool
	e.store.Read(func(tl *timeline.Timeline) {
		start, end, ok = tl.SelectionExtent()
	})
	if ok {
		if err := e.store.SetLoop(start, end); err != nil {
			e.Status = err.Error()
			return
		}
		e.Status = fmt.Sprintf("loop %s..%s", start, end)
		return
	}
	if e.store.Loop().Enabled {
		e.store.DisableLoop()
		e.Status = "loop off"
	}
}

// nudgeSelection moves the selection one grid cell in time or steps rows
// in pitch
func (e *Editor) nudgeSelection(forward bool, steps int64) {
	ids := e.store.Selection()
	if len(ids) == 0 {
		return
	}
	var minStart rational.Rat
	var first pitch.Pitch
	e.store.Read(func(tl *timeline.Timeline) {
		for i, id := range ids {
			n, _ := tl.Note(id)
			if i == 0 {
				first = n.Pitch
			}
			if i == 0 || n.Start.Less(minStart) {
				minStart = n.Start
			}
		}
	})

	var dt, dp rational.Rat
	switch {
	case steps != 0:
		t := e.tuning()
		k, _ := t.StepOf(first)
		dp = t.Interval(k, steps)
	case forward:
		dt = e.Grid
	default:
		dt = rational.Max(e.Grid.Neg(), minStart.Neg())
	}
	_ = e.store.MoveNotes(ids, dt, dp)
}
