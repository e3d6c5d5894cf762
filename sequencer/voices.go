package sequencer

import (
	"slices"
	"time"

	"dieseq/debug"
	"dieseq/midi"
	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/timeline"
)

// VoiceState of a single note during playback
type VoiceState int

const (
	Idle VoiceState = iota
	Sounding
)

func (v VoiceState) String() string {
	if v == Sounding {
		return "sounding"
	}
	return "idle"
}

// voice remembers what was sent for a note-on so the note-off matches it
// even after the note is edited or deleted
type voice struct {
	channel  uint8
	repr     pitch.Repr
	velocity uint8
}

// span is a scan interval; each bound may be open or closed
type span struct {
	lo, hi         rational.Rat
	loIncl, hiIncl bool
}

func (sp span) contains(t rational.Rat) bool {
	c := t.Cmp(sp.lo)
	if c < 0 || (c == 0 && !sp.loIncl) {
		return false
	}
	c = t.Cmp(sp.hi)
	return c < 0 || (c == 0 && sp.hiIncl)
}

// scan appends the commands due in sp: releases first, then note-ons, then
// releases of notes that both started and ended inside sp. Each group is
// ordered by note id.
func (s *Scheduler) scan(tl *timeline.Timeline, enc pitch.Encoder, sp span, now time.Time, cmds []midi.Command) []midi.Command {
	for _, id := range s.soundingIDs() {
		n, ok := tl.Note(id)
		switch {
		case !ok:
			cmds = append(cmds, s.release(id, sp.hi, now))
		case n.End().LessEq(sp.hi):
			cmds = append(cmds, s.release(id, n.End(), now))
		case sp.hi.Less(n.Start):
			cmds = append(cmds, s.release(id, sp.hi, now))
		}
	}

	var started []*timeline.Note
	for _, n := range tl.Notes() {
		if _, on := s.sounding[n.ID]; on || !sp.contains(n.Start) {
			continue
		}
		repr, err := enc.Encode(n.Pitch)
		if err != nil {
			debug.Warn("sched", err, debug.Fields{"note": n.ID, "pitch": n.Pitch.String()})
			continue
		}
		v := &voice{channel: s.voices.acquire(repr.Bend), repr: repr, velocity: n.Velocity}
		s.sounding[n.ID] = v
		cmds = append(cmds, midi.Command{
			Kind:     midi.NoteOn,
			NoteID:   n.ID,
			Repr:     repr,
			Velocity: n.Velocity,
			Channel:  v.channel,
			Time:     n.Start,
			At:       now,
		})
		started = append(started, n)
	}

	for _, n := range started {
		if n.End().LessEq(sp.hi) {
			cmds = append(cmds, s.release(n.ID, n.End(), now))
		}
	}
	return cmds
}

// flush releases every sounding note at pos
func (s *Scheduler) flush(pos rational.Rat, now time.Time) []midi.Command {
	var cmds []midi.Command
	for _, id := range s.soundingIDs() {
		cmds = append(cmds, s.release(id, pos, now))
	}
	return cmds
}

func (s *Scheduler) release(id timeline.NoteID, at rational.Rat, now time.Time) midi.Command {
	v := s.sounding[id]
	delete(s.sounding, id)
	s.voices.release(v.channel)
	return midi.Command{
		Kind:    midi.NoteOff,
		NoteID:  id,
		Repr:    v.repr,
		Channel: v.channel,
		Time:    at,
		At:      now,
	}
}

func (s *Scheduler) soundingIDs() []timeline.NoteID {
	ids := make([]timeline.NoteID, 0, len(s.sounding))
	for id := range s.sounding {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type channelState struct {
	ch   uint8
	busy int
	bend int16
	used uint64
}

// allocator hands out MIDI channels so notes with different pitch bends
// can sound together. Overlapping notes of the same pitch are separate
// voices.
type allocator struct {
	chans []*channelState
	clock uint64
}

func newAllocator(chs []uint8) *allocator {
	a := &allocator{}
	for _, ch := range chs {
		a.chans = append(a.chans, &channelState{ch: ch & 0x0f})
	}
	return a
}

// acquire prefers a free channel already bent to bend, then the least
// recently used free channel, then the least recently used channel
func (a *allocator) acquire(bend int16) uint8 {
	var pick *channelState
	for _, c := range a.chans {
		if c.busy == 0 && c.bend == bend {
			pick = c
			break
		}
	}
	if pick == nil {
		for _, c := range a.chans {
			if c.busy == 0 && (pick == nil || c.used < pick.used) {
				pick = c
			}
		}
	}
	if pick == nil {
		for _, c := range a.chans {
			if pick == nil || c.used < pick.used {
				pick = c
			}
		}
	}
	a.clock++
	pick.busy++
	pick.bend = bend
	pick.used = a.clock
	return pick.ch
}

func (a *allocator) release(ch uint8) {
	for _, c := range a.chans {
		if c.ch == ch && c.busy > 0 {
			c.busy--
			return
		}
	}
}
