package sequencer

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"time"

	"dieseq/debug"
	"dieseq/midi"
	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/timeline"
)

// DefaultTickInterval is how often Run scans the timeline
const DefaultTickInterval = 2 * time.Millisecond

// PlayState of the transport
type PlayState int

const (
	Stopped PlayState = iota
	Playing
)

func (s PlayState) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

// Transport is the playhead as seen by the renderer
type Transport struct {
	Position  rational.Rat // beats
	State     PlayState
	StartedAt time.Time    // wall clock of the last rebase
	Tempo     rational.Rat // bpm used by the current run
}

// Playing reports whether the transport is running
func (t Transport) Playing() bool { return t.State == Playing }

// Clock abstracts wall time so tests can drive playback
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// EncoderFunc builds the pitch encoder for the timeline's current tuning
type EncoderFunc func(t pitch.Tuning) pitch.Encoder

// MIDIEncoding encodes with a key plus pitch bend of the given range
func MIDIEncoding(bendRange float64) EncoderFunc {
	return func(t pitch.Tuning) pitch.Encoder {
		return pitch.MIDIEncoder{Tuning: t, BendRange: bendRange}
	}
}

// StepEncoding encodes absolute grid steps, for synths tuned to the grid
func StepEncoding(octaves int) EncoderFunc {
	return func(t pitch.Tuning) pitch.Encoder {
		return pitch.StepEncoder{Tuning: t, Octaves: octaves}
	}
}

// Option configures a Scheduler
type Option func(*Scheduler)

func WithClock(c Clock) Option                { return func(s *Scheduler) { s.clock = c } }
func WithEncoding(f EncoderFunc) Option       { return func(s *Scheduler) { s.encoding = f } }
func WithTickInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithChannels sets the MIDI channel pool (0-15) used for voice allocation
func WithChannels(chs []uint8) Option {
	return func(s *Scheduler) {
		if len(chs) > 0 {
			s.voices = newAllocator(chs)
		}
	}
}

// Scheduler walks the timeline in real time and emits note commands.
//
// Lock order is Scheduler.mu, then the store's read lock. The store never
// calls back into the scheduler.
type Scheduler struct {
	store    *timeline.Store
	sink     midi.Sink
	clock    Clock
	encoding EncoderFunc
	interval time.Duration

	mu        sync.Mutex
	transport Transport
	base      rational.Rat // position at StartedAt
	last      rational.Rat // upper bound of the previous scan
	fresh     bool         // next scan includes base itself
	sounding  map[timeline.NoteID]*voice
	voices    *allocator

	// Notify TUI of transport changes
	UpdateChan chan struct{}
}

// New returns a stopped scheduler reading store and writing sink
func New(store *timeline.Store, sink midi.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		sink:       sink,
		clock:      systemClock{},
		encoding:   MIDIEncoding(pitch.DefaultBendRange),
		interval:   DefaultTickInterval,
		sounding:   make(map[timeline.NoteID]*voice),
		voices:     newAllocator(defaultChannels()),
		UpdateChan: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.transport.Tempo = store.Tempo()
	return s
}

func defaultChannels() []uint8 {
	chs := make([]uint8, 16)
	for i := range chs {
		chs[i] = uint8(i)
	}
	return chs
}

// Transport returns a copy of the transport state
func (s *Scheduler) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// Playing reports whether playback is running
func (s *Scheduler) Playing() bool {
	return s.Transport().Playing()
}

// VoiceState reports whether a note is currently sounding
func (s *Scheduler) VoiceState(id timeline.NoteID) VoiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sounding[id]; ok {
		return Sounding
	}
	return Idle
}

// Start begins playback from the current position
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.transport.State == Playing {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	s.transport.State = Playing
	s.transport.Tempo = s.store.Tempo()
	s.rebase(s.transport.Position, now)
	s.fresh = true
	debug.Log("transport", "play from %s at %s bpm", s.transport.Position, s.transport.Tempo)
	s.mu.Unlock()

	s.notifyUpdate()
}

// Stop halts playback and releases every sounding note
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.transport.State == Stopped {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	// flush at the instant of the stop; nothing new is scanned
	pos := wrap(s.store.Loop(), s.position(now))
	s.transport.Position = pos
	s.transport.State = Stopped
	s.send(s.flush(pos, now))
	debug.Log("transport", "stop at %s", pos)
	s.mu.Unlock()

	s.notifyUpdate()
}

// Panic tells the sink to silence everything it is holding
func (s *Scheduler) Panic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(s.flush(s.transport.Position, s.clock.Now()))
	s.send([]midi.Command{{Kind: midi.AllOff, Time: s.transport.Position, At: s.clock.Now()}})
}

// Toggle starts or stops playback
func (s *Scheduler) Toggle() {
	if s.Playing() {
		s.Stop()
	} else {
		s.Start()
	}
}

// Seek moves the playhead. Sounding notes are released; if playing, the
// scan restarts at pos inclusive.
func (s *Scheduler) Seek(pos rational.Rat) {
	if pos.Negative() {
		pos = rational.Rat{}
	}
	s.mu.Lock()
	now := s.clock.Now()
	s.send(s.flush(s.transport.Position, now))
	s.transport.Position = pos
	s.rebase(pos, now)
	s.fresh = true
	s.mu.Unlock()

	s.notifyUpdate()
}

// Run drives Tick from a ticker until ctx is done, then stops playback
func (s *Scheduler) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.Tick(s.clock.Now())
		}
	}
}

// Tick scans the timeline up to now and emits everything due
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport.State != Playing {
		return
	}

	cur := s.position(now)
	lo, fresh := s.last, s.fresh

	var cmds []midi.Command
	s.store.Read(func(tl *timeline.Timeline) {
		// tempo edits rebase the clock so the position stays continuous
		if !tl.Tempo.Equal(s.transport.Tempo) {
			s.rebase(cur, now)
			s.transport.Tempo = tl.Tempo
		}

		enc := s.encoding(tl.Tuning)
		loop := tl.Loop
		// a start, seek or loop edit at or past the loop end jumps to its start
		if loop.Enabled && loop.End.LessEq(lo) {
			cmds = append(cmds, s.flush(lo, now)...)
			cur = loop.Start.Add(cur.Sub(lo))
			lo, fresh = loop.Start, true
			s.rebase(cur, now)
			debug.Log("transport", "past loop end, jump to %s", loop.Start)
		}
		if loop.Enabled && lo.Less(loop.End) && loop.End.LessEq(cur) {
			cmds = s.scan(tl, enc, span{lo: lo, hi: loop.End, loIncl: fresh, hiIncl: false}, now, cmds)
			cmds = append(cmds, s.flush(loop.End, now)...)

			cur = wrap(loop, cur)
			s.rebase(cur, now)
			debug.Log("transport", "loop wrap to %s", cur)
			cmds = s.scan(tl, enc, span{lo: loop.Start, hi: cur, loIncl: true, hiIncl: true}, now, cmds)
		} else {
			cmds = s.scan(tl, enc, span{lo: lo, hi: cur, loIncl: fresh, hiIncl: true}, now, cmds)
		}
	})

	s.fresh = false
	s.last = cur
	s.transport.Position = cur
	s.send(cmds)
}

// Render plays from the current position to end without a clock, scanning
// once per note boundary, then releases whatever is still sounding. Loops are
// ignored. Used for offline export; the scheduler is left stopped at end.
func (s *Scheduler) Render(end rational.Rat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	lo := s.transport.Position
	s.transport.State = Playing
	s.fresh = true

	var cmds []midi.Command
	s.store.Read(func(tl *timeline.Timeline) {
		enc := s.encoding(tl.Tuning)
		for _, b := range boundaries(tl, lo, end) {
			cmds = s.scan(tl, enc, span{lo: lo, hi: b, loIncl: s.fresh, hiIncl: true}, now, cmds)
			s.fresh = false
			lo = b
		}
	})
	cmds = append(cmds, s.flush(end, now)...)

	s.transport.State = Stopped
	s.transport.Position = end
	s.rebase(end, now)
	s.send(cmds)
}

// wrap folds a position at or past the end of an enabled loop back into it
func wrap(loop timeline.Loop, pos rational.Rat) rational.Rat {
	if !loop.Enabled || pos.Less(loop.End) {
		return pos
	}
	length := loop.End.Sub(loop.Start)
	over := pos.Sub(loop.End)
	over = over.Sub(over.Quo(length).FloorRat().Mul(length))
	return loop.Start.Add(over)
}

// boundaries lists the distinct note starts and ends in [lo, hi], plus hi
func boundaries(tl *timeline.Timeline, lo, hi rational.Rat) []rational.Rat {
	var out []rational.Rat
	add := func(t rational.Rat) {
		if t.Less(lo) || hi.Less(t) {
			return
		}
		out = append(out, t)
	}
	for _, n := range tl.Notes() {
		add(n.Start)
		add(n.End())
	}
	add(hi)
	slices.SortFunc(out, rational.Rat.Cmp)
	return slices.CompactFunc(out, rational.Rat.Equal)
}

// position computes base + elapsed*tempo/60 exactly
func (s *Scheduler) position(now time.Time) rational.Rat {
	if s.transport.State != Playing {
		return s.transport.Position
	}
	elapsed := now.Sub(s.transport.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	beats := rational.New(int64(elapsed), int64(time.Minute)).Mul(s.transport.Tempo)
	return s.base.Add(beats)
}

func (s *Scheduler) rebase(pos rational.Rat, now time.Time) {
	s.base = pos
	s.last = pos
	s.transport.StartedAt = now
}

func (s *Scheduler) send(cmds []midi.Command) {
	for _, c := range cmds {
		if err := s.sink.Send(c); err != nil {
			debug.Warn("sink", err, debug.Fields{"command": c.String()})
		}
	}
}

// notifyUpdate tells the TUI the transport changed
func (s *Scheduler) notifyUpdate() {
	select {
	case s.UpdateChan <- struct{}{}:
	default:
	}
}
