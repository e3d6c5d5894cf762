package midi

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"dieseq/debug"
)

// PipeOctaves is how many octave letters the pipe protocol has (a..h)
const PipeOctaves = 8

// PipeSink writes the line protocol of pipe-driven synths such as
// `med --pipe`. Keys are absolute grid steps: "0<octave letter><step>_+"
// starts a note, "0<octave letter><step>-" ends it and "s" silences
// everything.
type PipeSink struct {
	mu       sync.Mutex
	w        *bufio.Writer
	division int
	closer   io.Closer
	cmd      *exec.Cmd
}

// NewPipeSink writes to w for a tuning with division steps per octave
func NewPipeSink(w io.Writer, division int) *PipeSink {
	return &PipeSink{w: bufio.NewWriter(w), division: division}
}

// Announce sends the tuning line, e.g. "31edo"
func (p *PipeSink) Announce() error {
	return p.writeLine(fmt.Sprintf("%dedo", p.division))
}

// Line renders a command in the pipe protocol. ok is false for commands the
// protocol cannot express.
func (p *PipeSink) Line(c Command) (line string, ok bool) {
	if c.Kind == AllOff {
		return "s", true
	}
	if c.Repr.Key < 0 || c.Repr.Key >= PipeOctaves*p.division {
		return "", false
	}
	octave := rune('a' + c.Repr.Key/p.division)
	step := c.Repr.Key % p.division
	switch c.Kind {
	case NoteOn:
		return fmt.Sprintf("0%c%d_+", octave, step), true
	case NoteOff:
		return fmt.Sprintf("0%c%d-", octave, step), true
	}
	return "", false
}

func (p *PipeSink) Send(c Command) error {
	line, ok := p.Line(c)
	if !ok {
		debug.Log("pipe", "skip %s", c)
		return nil
	}
	return p.writeLine(line)
}

func (p *PipeSink) writeLine(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.WriteString(line + "\n"); err != nil {
		return err
	}
	return p.w.Flush()
}

// Close silences the synth and ends the process started by StartSynth
func (p *PipeSink) Close() error {
	err := p.writeLine("s")
	if p.closer != nil {
		if cerr := p.closer.Close(); err == nil {
			err = cerr
		}
	}
	if p.cmd != nil {
		if werr := p.cmd.Wait(); err == nil && werr != nil {
			debug.Log("pipe", "synth exited: %v", werr)
		}
	}
	return err
}

// StartSynth runs command (e.g. "med --pipe") with its stdin connected to a
// new PipeSink and announces the tuning.
func StartSynth(command string, division int) (*PipeSink, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("start synth: empty command")
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("start synth %q: %w", command, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start synth %q: %w", command, err)
	}
	debug.Log("pipe", "started %q pid=%d", command, cmd.Process.Pid)

	p := NewPipeSink(stdin, division)
	p.closer = stdin
	p.cmd = cmd
	if err := p.Announce(); err != nil {
		p.Close()
		return nil, fmt.Errorf("start synth %q: %w", command, err)
	}
	return p, nil
}
