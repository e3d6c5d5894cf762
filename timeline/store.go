package timeline

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"dieseq/pitch"
	"dieseq/rational"
)

// SelectMode says how Select combines ids with the current selection
type SelectMode int

const (
	Replace SelectMode = iota
	Add
	Toggle
)

// TimeRange is the half-open span [Start, End) in beats
type TimeRange struct {
	Start, End rational.Rat
}

// PitchRange is the half-open span [Low, High)
type PitchRange struct {
	Low, High pitch.Pitch
}

// Store guards a Timeline. Every mutation is one write-locked critical
// section; readers hold the read lock. The store never calls out while
// locked except through non-blocking channel sends.
type Store struct {
	mu      sync.RWMutex
	tl      *Timeline
	version uint64
	minDur  rational.Rat

	watchMu  sync.Mutex
	watchers []chan struct{}
}

// NewStore wraps tl, or a new empty timeline if tl is nil
func NewStore(tl *Timeline) *Store {
	if tl == nil {
		tl = New()
	}
	return &Store{tl: tl, minDur: DefaultMinDuration}
}

// SetMinDuration changes the resize floor
func (s *Store) SetMinDuration(d rational.Rat) {
	if !d.Positive() {
		return
	}
	s.mu.Lock()
	s.minDur = d
	s.mu.Unlock()
}

// MinDuration is the resize floor
func (s *Store) MinDuration() rational.Rat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minDur
}

// Watch returns a channel that receives a value after changes. Bursts of
// changes coalesce into one notification.
func (s *Store) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()
	return ch
}

// changed must be called with the write lock held
func (s *Store) changed() {
	s.version++
	s.watchMu.Lock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.watchMu.Unlock()
}

// Version increases on every mutation
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Read runs fn with the read lock held. fn must not call back into the store.
func (s *Store) Read(fn func(tl *Timeline)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.tl)
}

// Snapshot returns a deep copy of the timeline
func (s *Store) Snapshot() *Timeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl.Clone()
}

// Replace swaps in a whole new timeline (load)
func (s *Store) Replace(tl *Timeline) {
	if tl == nil {
		tl = New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tl = tl
	s.changed()
}

// AddNote creates an unselected note and returns its id. A negative start
// clamps to 0 and a non-positive duration to the minimum.
func (s *Store) AddNote(start, duration rational.Rat, p pitch.Pitch) NoteID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if start.Negative() {
		start = rational.Rat{}
	}
	if duration.Less(s.minDur) {
		duration = s.minDur
	}
	id := s.tl.Add(start, duration, p)
	s.changed()
	return id
}

// RemoveNotes deletes the given notes. Unknown ids are ignored.
func (s *Store) RemoveNotes(ids []NoteID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	for _, id := range ids {
		if _, ok := s.tl.notes[id]; ok {
			delete(s.tl.notes, id)
			removed = true
		}
	}
	if removed {
		s.changed()
	}
}

// MoveNotes shifts notes by dt beats and dp octaves. Starts clamp at 0. If
// any id is unknown nothing moves.
func (s *Store) MoveNotes(ids []NoteID, dt, dp rational.Rat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.tl.notes[id]; !ok {
			return fmt.Errorf("move %d: %w", id, ErrNoteNotFound)
		}
	}
	for _, id := range ids {
		n := s.tl.notes[id]
		n.Start = rational.Max(n.Start.Add(dt), rational.Rat{})
		n.Pitch = pitch.Transpose(n.Pitch, dp)
	}
	s.changed()
	return nil
}

// Place sets a note's start and pitch directly
func (s *Store) Place(id NoteID, start rational.Rat, p pitch.Pitch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.tl.notes[id]
	if !ok {
		return fmt.Errorf("place %d: %w", id, ErrNoteNotFound)
	}
	n.Start = rational.Max(start, rational.Rat{})
	n.Pitch = p
	s.changed()
	return nil
}

// ResizeNote sets a note's duration. Durations below the minimum clamp to it.
func (s *Store) ResizeNote(id NoteID, d rational.Rat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.tl.notes[id]
	if !ok {
		return fmt.Errorf("resize %d: %w", id, ErrNoteNotFound)
	}
	if d.Less(s.minDur) {
		d = s.minDur
	}
	n.Duration = d
	s.changed()
	return nil
}

// SetVelocity sets the velocity of the given notes, clamped to 1..127
func (s *Store) SetVelocity(ids []NoteID, v int) {
	v = max(1, min(127, v))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if n, ok := s.tl.notes[id]; ok {
			n.Velocity = uint8(v)
		}
	}
	s.changed()
}

// Select changes the selection
func (s *Store) Select(ids []NoteID, mode SelectMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == Replace {
		for _, n := range s.tl.notes {
			n.Selected = false
		}
	}
	for _, id := range ids {
		n, ok := s.tl.notes[id]
		if !ok {
			continue
		}
		if mode == Toggle {
			n.Selected = !n.Selected
		} else {
			n.Selected = true
		}
	}
	s.changed()
}

// ClearSelection deselects every note
func (s *Store) ClearSelection() {
	s.Select(nil, Replace)
}

// Selection returns the selected ids in ascending order
func (s *Store) Selection() []NoteID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl.SelectedIDs()
}

// NoteAt returns a copy of a note
func (s *Store) NoteAt(id NoteID) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.tl.notes[id]
	if !ok {
		return Note{}, false
	}
	return *n, true
}

// NotesInRect yields the ids of notes whose span [start, end) intersects
// tr and whose pitch lies in pr, in ascending id order. Matches are taken
// under the read lock when iteration starts, so the loop body may mutate
// the store. Each range over the sequence queries again.
func (s *Store) NotesInRect(tr TimeRange, pr PitchRange) iter.Seq[NoteID] {
	return func(yield func(NoteID) bool) {
		var ids []NoteID
		s.mu.RLock()
		for id, n := range s.tl.notes {
			if !n.Start.Less(tr.End) || !tr.Start.Less(n.End()) {
				continue
			}
			if n.Pitch.Less(pr.Low) || !n.Pitch.Less(pr.High) {
				continue
			}
			ids = append(ids, id)
		}
		s.mu.RUnlock()

		slices.Sort(ids)
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// Tempo in beats per minute
func (s *Store) Tempo() rational.Rat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl.Tempo
}

// SetTempo changes the tempo; bpm must be positive
func (s *Store) SetTempo(bpm rational.Rat) error {
	if !bpm.Positive() {
		return fmt.Errorf("tempo %s: %w", bpm, ErrInvalidTempo)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tl.Tempo = bpm
	s.changed()
	return nil
}

// Loop returns the loop bounds
func (s *Store) Loop() Loop {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl.Loop
}

// SetLoop enables looping over [start, end)
func (s *Store) SetLoop(start, end rational.Rat) error {
	l := Loop{Enabled: true, Start: start, End: end}
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tl.Loop = l
	s.changed()
	return nil
}

// DisableLoop turns looping off and keeps the bounds
func (s *Store) DisableLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tl.Loop.Enabled = false
	s.changed()
}

// Tuning returns the timeline's tuning
func (s *Store) Tuning() pitch.Tuning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl.Tuning
}
