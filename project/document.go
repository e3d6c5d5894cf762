// Package project reads and writes sequencer documents, keeps timestamped
// backups and exports Standard MIDI Files.
package project

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/timeline"
)

// Format is an on-disk encoding
type Format int

const (
	JSON Format = iota
	YAML
)

func (f Format) String() string {
	if f == YAML {
		return "yaml"
	}
	return "json"
}

// Ext is the file extension including the dot
func (f Format) Ext() string {
	if f == YAML {
		return ".yaml"
	}
	return ".json"
}

// FormatFor picks the format from a file extension, defaulting to JSON
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// fileVersion is bumped when the layout changes incompatibly
const fileVersion = 1

// View is the saved editor viewport
type View struct {
	Left      rational.Rat
	Top       int64
	PxPerBeat float64
	PxPerStep int
}

// Document is everything saved with a score
type Document struct {
	Timeline *timeline.Timeline
	Position rational.Rat // last playhead
	View     *View        // nil when never saved
}

// NewDocument returns an empty document with default settings
func NewDocument() *Document {
	return &Document{Timeline: timeline.New()}
}

// On-disk layout. Every rational is an exact "n/d" string so documents
// round-trip without float drift.

type fileDoc struct {
	Version  int        `json:"version" yaml:"version"`
	Tempo    string     `json:"tempo" yaml:"tempo"`
	Tuning   fileTuning `json:"tuning" yaml:"tuning"`
	Loop     *fileLoop  `json:"loop,omitempty" yaml:"loop,omitempty"`
	Position string     `json:"position,omitempty" yaml:"position,omitempty"`
	View     *fileView  `json:"view,omitempty" yaml:"view,omitempty"`
	Notes    []fileNote `json:"notes" yaml:"notes"`
}

type fileTuning struct {
	Division    int      `json:"division" yaml:"division"`
	ReferenceHz string   `json:"reference_hz" yaml:"reference_hz"`
	Scale       []string `json:"scale,omitempty" yaml:"scale,omitempty"`
}

type fileLoop struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Start   string `json:"start" yaml:"start"`
	End     string `json:"end" yaml:"end"`
}

type fileView struct {
	Left      string  `json:"left" yaml:"left"`
	Top       int64   `json:"top" yaml:"top"`
	PxPerBeat float64 `json:"px_per_beat" yaml:"px_per_beat"`
	PxPerStep int     `json:"px_per_step" yaml:"px_per_step"`
}

type fileNote struct {
	ID       uint64 `json:"id" yaml:"id"`
	Start    string `json:"start" yaml:"start"`
	Duration string `json:"duration" yaml:"duration"`
	Pitch    string `json:"pitch" yaml:"pitch"` // octaves above the reference
	Velocity uint8  `json:"velocity,omitempty" yaml:"velocity,omitempty"`
}

// Serialize encodes doc. Selection is not saved.
func Serialize(doc *Document, f Format) ([]byte, error) {
	fd := toFile(doc)
	if f == YAML {
		return yaml.Marshal(fd)
	}
	return json.MarshalIndent(fd, "", "  ")
}

// Deserialize decodes and validates a document
func Deserialize(data []byte, f Format) (*Document, error) {
	var fd fileDoc
	var err error
	if f == YAML {
		err = yaml.Unmarshal(data, &fd)
	} else {
		err = json.Unmarshal(data, &fd)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f, err)
	}
	if fd.Version > fileVersion {
		return nil, fmt.Errorf("document version %d is newer than supported %d", fd.Version, fileVersion)
	}

	doc, err := fromFile(&fd)
	if err != nil {
		return nil, err
	}
	if err := doc.Timeline.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func toFile(doc *Document) *fileDoc {
	tl := doc.Timeline
	fd := &fileDoc{
		Version: fileVersion,
		Tempo:   tl.Tempo.String(),
		Tuning: fileTuning{
			Division:    tl.Tuning.Division,
			ReferenceHz: tl.Tuning.ReferenceHz.String(),
		},
		Notes: make([]fileNote, 0, tl.Len()),
	}
	for _, d := range tl.Tuning.Scale {
		fd.Tuning.Scale = append(fd.Tuning.Scale, d.String())
	}
	if tl.Loop.Enabled || !tl.Loop.End.IsZero() {
		fd.Loop = &fileLoop{
			Enabled: tl.Loop.Enabled,
			Start:   tl.Loop.Start.String(),
			End:     tl.Loop.End.String(),
		}
	}
	if !doc.Position.IsZero() {
		fd.Position = doc.Position.String()
	}
	if v := doc.View; v != nil {
		fd.View = &fileView{Left: v.Left.String(), Top: v.Top, PxPerBeat: v.PxPerBeat, PxPerStep: v.PxPerStep}
	}
	for _, n := range tl.Notes() {
		fd.Notes = append(fd.Notes, fileNote{
			ID:       uint64(n.ID),
			Start:    n.Start.String(),
			Duration: n.Duration.String(),
			Pitch:    n.Pitch.String(),
			Velocity: n.Velocity,
		})
	}
	return fd
}

// ratParser collects the first parse error so fromFile reads linearly
type ratParser struct {
	err error
}

func (p *ratParser) parse(field, s string) rational.Rat {
	if p.err != nil {
		return rational.Rat{}
	}
	r, err := rational.Parse(s)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
	}
	return r
}

// opt parses s, treating an empty string as 0
func (p *ratParser) opt(field, s string) rational.Rat {
	if s == "" {
		return rational.Rat{}
	}
	return p.parse(field, s)
}

func fromFile(fd *fileDoc) (*Document, error) {
	var p ratParser
	tl := timeline.New()

	if fd.Tempo != "" {
		tl.Tempo = p.parse("tempo", fd.Tempo)
	}
	tl.Tuning = pitch.Tuning{Division: fd.Tuning.Division, ReferenceHz: pitch.DefaultTuning().ReferenceHz}
	// a scale tuning ignores the division, so a missing one only defaults for EDOs
	if tl.Tuning.Division == 0 && len(fd.Tuning.Scale) == 0 {
		tl.Tuning.Division = pitch.DefaultDivision
	}
	if fd.Tuning.ReferenceHz != "" {
		tl.Tuning.ReferenceHz = p.parse("tuning.reference_hz", fd.Tuning.ReferenceHz)
	}
	for i, s := range fd.Tuning.Scale {
		tl.Tuning.Scale = append(tl.Tuning.Scale, p.parse(fmt.Sprintf("tuning.scale[%d]", i), s))
	}
	if l := fd.Loop; l != nil {
		tl.Loop = timeline.Loop{
			Enabled: l.Enabled,
			Start:   p.parse("loop.start", l.Start),
			End:     p.parse("loop.end", l.End),
		}
	}

	doc := &Document{Timeline: tl, Position: p.opt("position", fd.Position)}
	if v := fd.View; v != nil {
		doc.View = &View{Left: p.opt("view.left", v.Left), Top: v.Top, PxPerBeat: v.PxPerBeat, PxPerStep: v.PxPerStep}
	}

	notes := make([]timeline.Note, 0, len(fd.Notes))
	seen := make(map[uint64]bool, len(fd.Notes))
	for i, n := range fd.Notes {
		field := fmt.Sprintf("notes[%d]", i)
		if n.ID != 0 && seen[n.ID] {
			return nil, fmt.Errorf("%s: duplicate id %d", field, n.ID)
		}
		seen[n.ID] = true
		notes = append(notes, timeline.Note{
			ID:       timeline.NoteID(n.ID),
			Start:    p.parse(field+".start", n.Start),
			Duration: p.parse(field+".duration", n.Duration),
			Pitch:    pitch.FromOctaves(p.parse(field+".pitch", n.Pitch)),
			Velocity: n.Velocity,
		})
	}
	if p.err != nil {
		return nil, p.err
	}

	// notes without an id get fresh ones after every explicit id is taken
	for _, n := range notes {
		if n.ID != 0 {
			tl.Insert(n)
		}
	}
	for _, n := range notes {
		if n.ID == 0 {
			tl.Insert(n)
		}
	}
	return doc, nil
}
