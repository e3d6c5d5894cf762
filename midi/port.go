package midi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"dieseq/debug"
)

// ErrPortNotFound is returned when no output port has the configured name
var ErrPortNotFound = errors.New("midi output port not found")

// portTimeout bounds port enumeration (CoreMIDI can hang)
const portTimeout = 3 * time.Second

// OutPorts lists output port names
func OutPorts() ([]string, error) {
	ch := make(chan []drivers.Out, 1)
	go func() {
		ch <- gomidi.GetOutPorts()
	}()

	select {
	case outs := <-ch:
		names := make([]string, 0, len(outs))
		for _, op := range outs {
			names = append(names, op.String())
		}
		return names, nil
	case <-time.After(portTimeout):
		return nil, fmt.Errorf("listing midi ports: timed out after %s", portTimeout)
	}
}

type heldNote struct {
	channel uint8
	key     uint8
}

// PortSink sends commands to a gomidi output port, opened lazily by name
type PortSink struct {
	portName string

	mu     sync.Mutex
	sender func(gomidi.Message) error
	bend   [16]int16
	held   map[heldNote]int
	send   func(gomidi.Message) error // override for tests
}

// NewPortSink returns a sink for the named output port. An empty name uses
// the first output.
func NewPortSink(portName string) *PortSink {
	return &PortSink{
		portName: portName,
		held:     make(map[heldNote]int),
	}
}

// getSender returns the sender, opening the port on first use
func (p *PortSink) getSender() (func(gomidi.Message) error, error) {
	if p.send != nil {
		return p.send, nil
	}
	if p.sender != nil {
		return p.sender, nil
	}

	for _, port := range gomidi.GetOutPorts() {
		if p.portName == "" || port.String() == p.portName {
			sender, err := gomidi.SendTo(port)
			if err != nil {
				return nil, fmt.Errorf("open %q: %w", port.String(), err)
			}
			debug.Log("midi", "opened output %q", port.String())
			p.sender = sender
			return sender, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", p.portName, ErrPortNotFound)
}

func (p *PortSink) Send(c Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sender, err := p.getSender()
	if err != nil {
		return err
	}

	ch := c.Channel & 0x0f
	switch c.Kind {
	case NoteOn:
		if c.Repr.Key < 0 || c.Repr.Key > 127 {
			return fmt.Errorf("note %d key %d out of midi range", c.NoteID, c.Repr.Key)
		}
		if p.bend[ch] != c.Repr.Bend {
			if err := sender(gomidi.Pitchbend(ch, c.Repr.Bend)); err != nil {
				return err
			}
			p.bend[ch] = c.Repr.Bend
		}
		key := uint8(c.Repr.Key)
		p.held[heldNote{ch, key}]++
		return sender(gomidi.NoteOn(ch, key, c.Velocity))
	case NoteOff:
		key := uint8(c.Repr.Key)
		hn := heldNote{ch, key}
		if p.held[hn] > 1 {
			p.held[hn]--
		} else {
			delete(p.held, hn)
		}
		return sender(gomidi.NoteOff(ch, key))
	case AllOff:
		return p.releaseAll(sender)
	}
	return nil
}

func (p *PortSink) releaseAll(sender func(gomidi.Message) error) error {
	var firstErr error
	for hn := range p.held {
		if err := sender(gomidi.NoteOff(hn.channel, hn.key)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.held = make(map[heldNote]int)
	return firstErr
}

// Close releases every held note
func (p *PortSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.held) == 0 {
		return nil
	}
	sender, err := p.getSender()
	if err != nil {
		return err
	}
	return p.releaseAll(sender)
}
