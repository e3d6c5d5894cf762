package sequencer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dieseq/midi"
	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/timeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func r(s string) rational.Rat { return rational.MustParse(s) }

// a4 encodes to MIDI key 69 with no bend
func a4() pitch.Pitch { return pitch.FromOctaves(r("4")) }

type event struct {
	kind midi.Kind
	id   timeline.NoteID
}

func events(rec *midi.Recorder) []event {
	var out []event
	for _, c := range rec.Commands() {
		out = append(out, event{c.Kind, c.NoteID})
	}
	return out
}

func setup(t *testing.T, bpm string) (*timeline.Store, *midi.Recorder, *fakeClock, *Scheduler) {
	t.Helper()
	store := timeline.NewStore(nil)
	require.NoError(t, store.SetTempo(r(bpm)))
	rec := &midi.Recorder{}
	clock := newFakeClock()
	return store, rec, clock, New(store, rec, WithClock(clock))
}

func TestStopAtHalfBeatFlushesSingleNote(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	id := store.AddNote(r("0"), r("1"), a4())

	s.Start()
	s.Tick(clock.Now())
	clock.Advance(250 * time.Millisecond)
	s.Tick(clock.Now())
	clock.Advance(250 * time.Millisecond)
	s.Stop()

	assert.Equal(t, []event{{midi.NoteOn, id}, {midi.NoteOff, id}}, events(rec))
	assert.Equal(t, "1/2", s.Transport().Position.String())
	assert.Equal(t, Idle, s.VoiceState(id))
}

func TestPlaybackEmitsExactlyTheDueEvents(t *testing.T) {
	store, rec, clock, s := setup(t, "120")
	// at 120 bpm a beat is 500ms
	notes := []struct{ start, dur string }{
		{"0", "1"},
		{"1/3", "1/7"},
		{"1", "1/2"},
		{"3/2", "5/2"},
		{"2", "1/1000"},
		{"9/2", "1"},
	}
	for i, n := range notes {
		store.AddNote(r(n.start), r(n.dur), pitch.Transpose(a4(), rational.New(int64(i), 12)))
	}

	s.Start()
	s.Tick(clock.Now())
	// uneven polling must not matter
	for _, d := range []time.Duration{3, 17, 1, 250, 40, 333, 2, 900, 123} {
		s.Tick(clock.Advance(d * time.Millisecond))
	}
	pos := s.Transport().Position
	require.True(t, pos.Equal(r("1669/500")), pos.String())

	ons := map[timeline.NoteID]int{}
	offs := map[timeline.NoteID]int{}
	for _, c := range rec.Commands() {
		switch c.Kind {
		case midi.NoteOn:
			ons[c.NoteID]++
		case midi.NoteOff:
			offs[c.NoteID]++
		}
	}

	store.Read(func(tl *timeline.Timeline) {
		for _, n := range tl.Notes() {
			wantOn, wantOff := 0, 0
			if n.Start.LessEq(pos) {
				wantOn = 1
			}
			if n.End().LessEq(pos) {
				wantOff = 1
			}
			assert.Equal(t, wantOn, ons[n.ID], "note-on for %d", n.ID)
			assert.Equal(t, wantOff, offs[n.ID], "note-off for %d", n.ID)
		}
	})
}

func TestStopReleasesEverySoundingNoteOnce(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	a := store.AddNote(r("0"), r("4"), a4())
	b := store.AddNote(r("0"), r("1/2"), pitch.Transpose(a4(), r("1/31")))
	c := store.AddNote(r("1"), r("4"), a4())

	s.Start()
	s.Tick(clock.Now())
	s.Tick(clock.Advance(1500 * time.Millisecond))
	rec.Reset()
	s.Stop()

	assert.Equal(t, []event{{midi.NoteOff, a}, {midi.NoteOff, c}}, events(rec))
	assert.NotContains(t, events(rec), event{midi.NoteOff, b})

	rec.Reset()
	s.Stop()
	assert.Empty(t, rec.Commands())
}

func TestOffsComeBeforeOns(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	a := store.AddNote(r("0"), r("1"), a4())
	b := store.AddNote(r("1"), r("1"), a4())

	s.Start()
	s.Tick(clock.Now())
	s.Tick(clock.Advance(time.Second))

	assert.Equal(t, []event{
		{midi.NoteOn, a},
		{midi.NoteOff, a},
		{midi.NoteOn, b},
	}, events(rec))
}

func TestShortNoteInsideOneScanStillGetsBothEvents(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	id := store.AddNote(r("1/4"), r("1/8"), a4())

	s.Start()
	s.Tick(clock.Now())
	s.Tick(clock.Advance(time.Second))

	assert.Equal(t, []event{{midi.NoteOn, id}, {midi.NoteOff, id}}, events(rec))
}

func TestLoopWrap(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	a := store.AddNote(r("0"), r("1"), a4())
	b := store.AddNote(r("1"), r("1"), a4())
	long := store.AddNote(r("3/2"), r("4"), pitch.Transpose(a4(), r("1/12")))
	require.NoError(t, store.SetLoop(r("0"), r("2")))

	s.Start()
	s.Tick(clock.Now())
	s.Tick(clock.Advance(1750 * time.Millisecond))
	rec.Reset()

	// crosses the loop end by a quarter beat
	s.Tick(clock.Advance(500 * time.Millisecond))

	assert.Equal(t, []event{
		{midi.NoteOff, b},    // due exactly at the loop end
		{midi.NoteOff, long}, // flushed by the wrap
		{midi.NoteOn, a},     // restarted from the loop start
	}, events(rec))
	assert.Equal(t, "1/4", s.Transport().Position.String())
	assert.Equal(t, Sounding, s.VoiceState(a))
	assert.Equal(t, Idle, s.VoiceState(long))
}

func TestStopPastLoopEndKeepsLooping(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	a := store.AddNote(r("0"), r("1/2"), a4())
	require.NoError(t, store.SetLoop(r("0"), r("1")))

	s.Start()
	s.Tick(clock.Now())
	s.Tick(clock.Advance(990 * time.Millisecond))
	// stop lands past the loop end before any tick has wrapped
	clock.Advance(20 * time.Millisecond)
	s.Stop()
	assert.Equal(t, "1/100", s.Transport().Position.String())

	rec.Reset()
	s.Start()
	s.Tick(clock.Now())
	for range 20 {
		s.Tick(clock.Advance(250 * time.Millisecond))
	}

	assert.Equal(t, "1/100", s.Transport().Position.String())
	ons := 0
	for _, e := range events(rec) {
		if e == (event{midi.NoteOn, a}) {
			ons++
		}
	}
	assert.Equal(t, 5, ons)
}

func TestSeekPastLoopEndJumpsToLoopStart(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	a := store.AddNote(r("0"), r("1"), a4())
	store.AddNote(r("3"), r("1"), a4())
	require.NoError(t, store.SetLoop(r("0"), r("2")))

	s.Start()
	s.Tick(clock.Now())
	s.Seek(r("3"))
	s.Tick(clock.Now())

	assert.Equal(t, []event{
		{midi.NoteOn, a},
		{midi.NoteOff, a},
		{midi.NoteOn, a},
	}, events(rec))
	assert.Equal(t, "0", s.Transport().Position.String())
}

func TestDeletedSoundingNoteIsReleased(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	id := store.AddNote(r("0"), r("4"), a4())

	s.Start()
	s.Tick(clock.Now())
	store.RemoveNotes([]timeline.NoteID{id})
	s.Tick(clock.Advance(10 * time.Millisecond))

	cmds := rec.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, midi.NoteOff, cmds[1].Kind)
	assert.Equal(t, cmds[0].Repr, cmds[1].Repr)
	assert.Equal(t, cmds[0].Channel, cmds[1].Channel)
}

func TestEditedSoundingNoteReleasesWithOriginalPitch(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	id := store.AddNote(r("0"), r("1"), a4())

	s.Start()
	s.Tick(clock.Now())
	require.NoError(t, store.MoveNotes([]timeline.NoteID{id}, r("0"), r("1/12")))
	s.Tick(clock.Advance(time.Second))

	cmds := rec.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, 69, cmds[1].Repr.Key)
}

func TestMovedAheadOfPlayheadIsReleased(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	id := store.AddNote(r("0"), r("1"), a4())

	s.Start()
	s.Tick(clock.Now())
	require.NoError(t, store.MoveNotes([]timeline.NoteID{id}, r("2"), r("0")))
	s.Tick(clock.Advance(100 * time.Millisecond))

	assert.Equal(t, []event{{midi.NoteOn, id}, {midi.NoteOff, id}}, events(rec))
	assert.Equal(t, Idle, s.VoiceState(id))
}

func TestOutOfRangeNoteIsSkipped(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	store.AddNote(r("0"), r("1"), pitch.FromOctaves(r("12")))
	ok := store.AddNote(r("0"), r("1"), a4())

	s.Start()
	s.Tick(clock.Now())
	s.Tick(clock.Advance(2 * time.Second))

	assert.Equal(t, []event{{midi.NoteOn, ok}, {midi.NoteOff, ok}}, events(rec))
}

func TestVoiceAllocation(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	// a quarter tone apart: different pitch bends
	store.AddNote(r("0"), r("1"), a4())
	store.AddNote(r("0"), r("1"), pitch.Transpose(a4(), r("1/24")))
	// same pitch as the first, overlapping: an independent voice
	store.AddNote(r("1/2"), r("1"), a4())

	s.Start()
	s.Tick(clock.Now())
	s.Tick(clock.Advance(500 * time.Millisecond))

	cmds := rec.Commands()
	require.Len(t, cmds, 3)
	assert.NotEqual(t, cmds[0].Channel, cmds[1].Channel)
	assert.NotEqual(t, cmds[0].Channel, cmds[2].Channel)
}

func TestAllocatorPrefersMatchingBend(t *testing.T) {
	a := newAllocator([]uint8{0, 1, 2})
	c0 := a.acquire(0)
	c1 := a.acquire(300)
	a.release(c0)
	a.release(c1)

	assert.Equal(t, c1, a.acquire(300))
	assert.Equal(t, c0, a.acquire(0))
	// everything busy: least recently used is reused
	assert.Equal(t, uint8(2), a.acquire(-50))
	assert.Equal(t, c1, a.acquire(7))
}

func TestTempoChangeRebasesClock(t *testing.T) {
	store, _, clock, s := setup(t, "60")

	s.Start()
	s.Tick(clock.Now())
	s.Tick(clock.Advance(time.Second))
	require.NoError(t, store.SetTempo(r("120")))
	s.Tick(clock.Now())
	s.Tick(clock.Advance(time.Second))

	assert.Equal(t, "3", s.Transport().Position.String())
}

func TestSeekFlushesAndRestartsInclusive(t *testing.T) {
	store, rec, clock, s := setup(t, "60")
	a := store.AddNote(r("0"), r("4"), a4())
	b := store.AddNote(r("2"), r("1"), a4())

	s.Start()
	s.Tick(clock.Now())
	s.Seek(r("2"))
	s.Tick(clock.Now())

	assert.Equal(t, []event{
		{midi.NoteOn, a},
		{midi.NoteOff, a},
		{midi.NoteOn, b},
	}, events(rec))
}

func TestRunStopsOnCancel(t *testing.T) {
	store, rec, _, _ := setup(t, "600")
	s := New(store, rec, WithTickInterval(time.Millisecond))
	store.AddNote(r("0"), r("100"), a4())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Start()
	require.Eventually(t, func() bool { return len(rec.Commands()) > 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	cmds := rec.Commands()
	assert.Equal(t, midi.NoteOff, cmds[len(cmds)-1].Kind)
	assert.False(t, s.Playing())
}

func TestRenderScansEveryBoundary(t *testing.T) {
	store, rec, _, s := setup(t, "60")
	a := store.AddNote(r("0"), r("1"), a4())
	b := store.AddNote(r("1"), r("1/3"), a4())
	c := store.AddNote(r("1/2"), r("10"), pitch.Transpose(a4(), r("1/12")))
	require.NoError(t, store.SetLoop(r("0"), r("1/2")))

	s.Render(r("2"))

	var got []struct {
		event
		time string
	}
	for _, cmd := range rec.Commands() {
		got = append(got, struct {
			event
			time string
		}{event{cmd.Kind, cmd.NoteID}, cmd.Time.String()})
	}
	want := []struct {
		event
		time string
	}{
		{event{midi.NoteOn, a}, "0"},
		{event{midi.NoteOn, c}, "1/2"},
		{event{midi.NoteOff, a}, "1"},
		{event{midi.NoteOn, b}, "1"},
		{event{midi.NoteOff, b}, "4/3"},
		{event{midi.NoteOff, c}, "2"},
	}
	assert.Equal(t, want, got)
	assert.False(t, s.Playing())
	assert.Equal(t, "2", s.Transport().Position.String())
}
