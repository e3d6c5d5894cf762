package midi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/timeline"
)

// Kind of command
type Kind uint8

const (
	NoteOn Kind = iota
	NoteOff
	AllOff // panic: silence everything, sent on stop
)

func (k Kind) String() string {
	switch k {
	case NoteOn:
		return "on"
	case NoteOff:
		return "off"
	case AllOff:
		return "all-off"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Command is one timed output event
type Command struct {
	Kind     Kind
	NoteID   timeline.NoteID
	Repr     pitch.Repr
	Velocity uint8
	Channel  uint8        // 0-15
	Time     rational.Rat // timeline position in beats
	At       time.Time    // wall clock the scheduler computed it for
}

func (c Command) String() string {
	return fmt.Sprintf("%s note=%d key=%d bend=%d ch=%d t=%s", c.Kind, c.NoteID, c.Repr.Key, c.Repr.Bend, c.Channel, c.Time)
}

// Sink consumes commands in order. Sinks never reorder.
type Sink interface {
	Send(c Command) error
}

// Closer is implemented by sinks that hold devices or processes
type Closer interface {
	Close() error
}

// Multi fans every command out to each sink in order. All sinks get the
// command even if one fails.
type Multi []Sink

func (m Multi) Send(c Command) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if cl, ok := s.(Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything (output "none")
type Discard struct{}

func (Discard) Send(Command) error { return nil }

// Recorder keeps every command in memory
type Recorder struct {
	mu       sync.Mutex
	commands []Command
}

func (r *Recorder) Send(c Command) error {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
	return nil
}

// Commands returns a copy of everything recorded so far
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Reset forgets recorded commands
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.commands = nil
	r.mu.Unlock()
}
