// Package timeline holds the note data model and the locked store that the
// editor writes and the scheduler and renderer read.
package timeline

import (
	"errors"
	"fmt"
	"slices"

	"dieseq/pitch"
	"dieseq/rational"
)

var (
	ErrInvalidDuration = errors.New("invalid duration")
	ErrNoteNotFound    = errors.New("note not found")
	ErrInvalidTempo    = errors.New("invalid tempo")
	ErrInvalidLoop     = errors.New("invalid loop")
)

// DefaultVelocity is used for notes drawn with the pencil
const DefaultVelocity = 100

// DefaultTempo in beats per minute
const DefaultTempo = 120

// DefaultMinDuration is the shortest note a resize can produce, in beats
var DefaultMinDuration = rational.New(1, 16)

// NoteID identifies a note for its whole lifetime. IDs are never reused
// within a timeline and order emission ties.
type NoteID uint64

// Note is a single timed pitch. Start and Duration are in beats.
type Note struct {
	ID       NoteID
	Start    rational.Rat
	Duration rational.Rat
	Pitch    pitch.Pitch
	Velocity uint8
	Selected bool
}

// End is Start + Duration
func (n *Note) End() rational.Rat {
	return n.Start.Add(n.Duration)
}

// Loop bounds playback to [Start, End) when enabled
type Loop struct {
	Enabled bool
	Start   rational.Rat
	End     rational.Rat
}

// Validate reports ErrInvalidLoop unless 0 <= Start < End
func (l Loop) Validate() error {
	if l.Start.Negative() || !l.Start.Less(l.End) {
		return fmt.Errorf("loop [%s, %s): %w", l.Start, l.End, ErrInvalidLoop)
	}
	return nil
}

// Timeline is the unsynchronized document. Use a Store to share it.
type Timeline struct {
	notes  map[NoteID]*Note
	nextID NoteID

	Tempo  rational.Rat
	Loop   Loop
	Tuning pitch.Tuning
}

// New returns an empty timeline at the default tempo and tuning
func New() *Timeline {
	return &Timeline{
		notes:  make(map[NoteID]*Note),
		nextID: 1,
		Tempo:  rational.Int(DefaultTempo),
		Tuning: pitch.DefaultTuning(),
	}
}

// Add inserts a new note and returns its fresh id
func (tl *Timeline) Add(start, duration rational.Rat, p pitch.Pitch) NoteID {
	id := tl.nextID
	tl.nextID++
	tl.notes[id] = &Note{
		ID:       id,
		Start:    start,
		Duration: duration,
		Pitch:    p,
		Velocity: DefaultVelocity,
	}
	return id
}

// Insert stores n under its own id, used when loading documents. An id of 0
// is replaced by a fresh one.
func (tl *Timeline) Insert(n Note) NoteID {
	if n.ID == 0 {
		n.ID = tl.nextID
	}
	if n.ID >= tl.nextID {
		tl.nextID = n.ID + 1
	}
	if n.Velocity == 0 {
		n.Velocity = DefaultVelocity
	}
	tl.notes[n.ID] = &n
	return n.ID
}

// Note returns the note with the given id
func (tl *Timeline) Note(id NoteID) (*Note, bool) {
	n, ok := tl.notes[id]
	return n, ok
}

// Len is the number of notes
func (tl *Timeline) Len() int {
	return len(tl.notes)
}

// IDs returns every note id in ascending order
func (tl *Timeline) IDs() []NoteID {
	ids := make([]NoteID, 0, len(tl.notes))
	for id := range tl.notes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Notes returns every note ordered by id
func (tl *Timeline) Notes() []*Note {
	out := make([]*Note, 0, len(tl.notes))
	for _, id := range tl.IDs() {
		out = append(out, tl.notes[id])
	}
	return out
}

// SelectedIDs returns the ids of selected notes in ascending order
func (tl *Timeline) SelectedIDs() []NoteID {
	var ids []NoteID
	for id, n := range tl.notes {
		if n.Selected {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// SelectionExtent returns the span covered by the selected notes
func (tl *Timeline) SelectionExtent() (start, end rational.Rat, ok bool) {
	for _, n := range tl.notes {
		if !n.Selected {
			continue
		}
		if !ok {
			start, end, ok = n.Start, n.End(), true
			continue
		}
		start = rational.Min(start, n.Start)
		end = rational.Max(end, n.End())
	}
	return start, end, ok
}

// End returns the latest note end, or 0 for an empty timeline
func (tl *Timeline) End() rational.Rat {
	var end rational.Rat
	for _, n := range tl.notes {
		end = rational.Max(end, n.End())
	}
	return end
}

// Clone returns a deep copy
func (tl *Timeline) Clone() *Timeline {
	c := &Timeline{
		notes:  make(map[NoteID]*Note, len(tl.notes)),
		nextID: tl.nextID,
		Tempo:  tl.Tempo,
		Loop:   tl.Loop,
		Tuning: tl.Tuning,
	}
	c.Tuning.Scale = slices.Clone(tl.Tuning.Scale)
	for id, n := range tl.notes {
		cp := *n
		c.notes[id] = &cp
	}
	return c
}

// Validate checks a loaded timeline before it replaces the live one
func (tl *Timeline) Validate() error {
	if !tl.Tempo.Positive() {
		return fmt.Errorf("tempo %s: %w", tl.Tempo, ErrInvalidTempo)
	}
	if tl.Loop.Enabled {
		if err := tl.Loop.Validate(); err != nil {
			return err
		}
	}
	if err := tl.Tuning.Validate(); err != nil {
		return err
	}
	for _, n := range tl.Notes() {
		if !n.Duration.Positive() {
			return fmt.Errorf("note %d duration %s: %w", n.ID, n.Duration, ErrInvalidDuration)
		}
		if n.Start.Negative() {
			return fmt.Errorf("note %d starts at %s before 0", n.ID, n.Start)
		}
		if n.Velocity < 1 || n.Velocity > 127 {
			return fmt.Errorf("note %d velocity %d out of range", n.ID, n.Velocity)
		}
	}
	return nil
}
