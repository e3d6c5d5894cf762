package project

import (
	"fmt"
	"io"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"dieseq/midi"
	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/sequencer"
	"dieseq/timeline"
)

// TicksPerQuarter is the SMF time resolution
const TicksPerQuarter = 960

// ExportOptions tunes the rendered file
type ExportOptions struct {
	BendRange float64 // semitones, also written as RPN 0 on every channel used
	Channels  []uint8
}

// ExportSMF plays doc's timeline offline through the scheduler and writes
// the result as a single-track Standard MIDI File. The loop is ignored.
func ExportSMF(doc *Document, w io.Writer, opts ExportOptions) error {
	if opts.BendRange <= 0 {
		opts.BendRange = pitch.DefaultBendRange
	}

	tl := doc.Timeline.Clone()
	tl.Loop = timeline.Loop{}
	store := timeline.NewStore(tl)

	rec := &midi.Recorder{}
	sched := sequencer.New(store, rec,
		sequencer.WithClock(fixedClock{}),
		sequencer.WithEncoding(sequencer.MIDIEncoding(opts.BendRange)),
		sequencer.WithChannels(opts.Channels),
	)
	sched.Render(tl.End())

	tw := newTrackWriter(opts.BendRange)
	track := tw.header(tl.Tempo)
	for _, c := range rec.Commands() {
		if err := tw.add(c); err != nil {
			return err
		}
	}
	track = append(track, tw.track...)
	track.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)
	if err := s.Add(track); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write midi file: %w", err)
	}
	return nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Time{} }

// trackWriter turns ordered commands into delta-timed track events
type trackWriter struct {
	bendRange float64
	track     smf.Track
	tick      uint64
	bend      [16]int16
	rpnSent   [16]bool
}

func newTrackWriter(bendRange float64) *trackWriter {
	return &trackWriter{bendRange: bendRange}
}

func (tw *trackWriter) header(bpm rational.Rat) smf.Track {
	var t smf.Track
	t.Add(0, smf.MetaMeter(4, 4))
	t.Add(0, smf.MetaTempo(bpm.Float64()))
	return t
}

// ticks rounds a beat position to the nearest tick
func ticks(beats rational.Rat) uint64 {
	t := beats.MulInt(TicksPerQuarter).Add(rational.New(1, 2)).Floor()
	if t < 0 {
		return 0
	}
	return uint64(t)
}

func (tw *trackWriter) emit(at uint64, msg gomidi.Message) {
	delta := uint32(0)
	if at > tw.tick {
		delta = uint32(at - tw.tick)
		tw.tick = at
	}
	tw.track.Add(delta, msg)
}

func (tw *trackWriter) add(c midi.Command) error {
	at := ticks(c.Time)
	ch := c.Channel & 0x0f
	switch c.Kind {
	case midi.NoteOn:
		if c.Repr.Key < 0 || c.Repr.Key > 127 {
			return fmt.Errorf("note %d: key %d: %w", c.NoteID, c.Repr.Key, pitch.ErrOutOfRange)
		}
		if !tw.rpnSent[ch] {
			// RPN 0: pitch bend sensitivity
			semis := uint8(tw.bendRange)
			cents := uint8((tw.bendRange - float64(semis)) * 100)
			tw.emit(at, gomidi.ControlChange(ch, 101, 0))
			tw.emit(at, gomidi.ControlChange(ch, 100, 0))
			tw.emit(at, gomidi.ControlChange(ch, 6, semis))
			tw.emit(at, gomidi.ControlChange(ch, 38, cents))
			tw.rpnSent[ch] = true
		}
		if tw.bend[ch] != c.Repr.Bend {
			tw.emit(at, gomidi.Pitchbend(ch, c.Repr.Bend))
			tw.bend[ch] = c.Repr.Bend
		}
		tw.emit(at, gomidi.NoteOn(ch, uint8(c.Repr.Key), c.Velocity))
	case midi.NoteOff:
		tw.emit(at, gomidi.NoteOff(ch, uint8(c.Repr.Key)))
	}
	return nil
}
