package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"dieseq/pitch"
	"dieseq/rational"
)

// OutputKind identifies where playback commands go
type OutputKind string

const (
	OutputMIDI OutputKind = "midi"
	OutputPipe OutputKind = "pipe"
	OutputOSC  OutputKind = "osc"
	OutputNone OutputKind = "none"
)

// Valid reports whether k is a known output
func (k OutputKind) Valid() bool {
	switch k {
	case OutputMIDI, OutputPipe, OutputOSC, OutputNone:
		return true
	}
	return false
}

// OutputConfig defines the synth output
type OutputConfig struct {
	Kind         OutputKind `json:"kind"`
	PortName     string     `json:"portName,omitempty"`
	Channels     []int      `json:"channels,omitempty"`
	BendRange    float64    `json:"bendRange,omitempty"` // semitones
	SynthCommand string     `json:"synthCommand,omitempty"`
	OSCHost      string     `json:"oscHost,omitempty"`
	OSCPort      int        `json:"oscPort,omitempty"`
}

// TuningConfig is the tuning for new documents
type TuningConfig struct {
	Division    int          `json:"division,omitempty"`
	ReferenceHz rational.Rat `json:"referenceHz,omitempty"`
}

// EditorConfig stores editing preferences
type EditorConfig struct {
	Grid          rational.Rat `json:"grid,omitempty"`       // beats
	NoteLength    rational.Rat `json:"noteLength,omitempty"` // beats
	MinDuration   rational.Rat `json:"minDuration,omitempty"`
	EdgeTolerance int          `json:"edgeTolerance,omitempty"` // cells
	Velocity      int          `json:"velocity,omitempty"`
}

// PlaybackConfig stores scheduler settings
type PlaybackConfig struct {
	TickMillis int `json:"tickMillis,omitempty"`
}

// BackupConfig controls autosave
type BackupConfig struct {
	Autosave      bool `json:"autosave"`
	DebounceMilli int  `json:"debounceMillis,omitempty"`
	Keep          int  `json:"keep,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	Palette string `json:"palette,omitempty"` // path to a GPL palette
}

// Config is the main configuration structure
type Config struct {
	Output   OutputConfig   `json:"output"`
	Tuning   TuningConfig   `json:"tuning"`
	Editor   EditorConfig   `json:"editor"`
	Playback PlaybackConfig `json:"playback"`
	Backup   BackupConfig   `json:"backup"`
	UI       UIConfig       `json:"ui,omitempty"`
	Debug    bool           `json:"debug,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Kind:         OutputMIDI,
			BendRange:    pitch.DefaultBendRange,
			SynthCommand: "med --pipe",
			OSCHost:      "127.0.0.1",
			OSCPort:      57120,
		},
		Tuning: TuningConfig{
			Division:    pitch.DefaultDivision,
			ReferenceHz: pitch.DefaultTuning().ReferenceHz,
		},
		Editor: EditorConfig{
			Grid:          rational.New(1, 4),
			NoteLength:    rational.New(1, 2),
			MinDuration:   rational.New(1, 16),
			EdgeTolerance: 1,
			Velocity:      100,
		},
		Playback: PlaybackConfig{
			TickMillis: 2,
		},
		Backup: BackupConfig{
			Autosave:      true,
			DebounceMilli: 2000,
			Keep:          20,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "dieseq"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnvPath returns the path of the optional dotenv file beside config.json
func EnvPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".env"), nil
}

// Load reads the config from disk, or returns defaults if not found.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, cfg.applyEnv()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.applyEnv()
		}
		return nil, err
	}

	// fields missing from the file keep their defaults
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// applyEnv applies DIESEQ_* overrides. The process environment wins over
// the dotenv file.
func (c *Config) applyEnv() error {
	file := map[string]string{}
	if path, err := EnvPath(); err == nil {
		vars, err := godotenv.Read(path)
		switch {
		case err == nil:
			file = vars
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	getenv := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return file[key]
	}

	if v := getenv("DIESEQ_PORT"); v != "" {
		c.Output.PortName = v
	}
	if v := getenv("DIESEQ_OUTPUT"); v != "" {
		k := OutputKind(v)
		if !k.Valid() {
			return fmt.Errorf("DIESEQ_OUTPUT: unknown output %q", v)
		}
		c.Output.Kind = k
	}
	if v := getenv("DIESEQ_DEBUG"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DIESEQ_DEBUG: %w", err)
		}
		c.Debug = on
	}
	return nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if !c.Output.Kind.Valid() {
		return fmt.Errorf("output.kind: unknown output %q", c.Output.Kind)
	}
	for _, ch := range c.Output.Channels {
		if ch < 0 || ch > 15 {
			return fmt.Errorf("output.channels: %d is not a MIDI channel", ch)
		}
	}
	if c.Output.BendRange < 0 {
		return fmt.Errorf("output.bendRange must not be negative")
	}
	if err := c.TuningValue().Validate(); err != nil {
		return err
	}
	if c.Editor.Grid.Negative() || c.Editor.NoteLength.Negative() || c.Editor.MinDuration.Negative() {
		return fmt.Errorf("editor: lengths must not be negative")
	}
	if c.Editor.Velocity < 0 || c.Editor.Velocity > 127 {
		return fmt.Errorf("editor.velocity: %d out of range", c.Editor.Velocity)
	}
	return nil
}

// TuningValue is the configured tuning for new documents
func (c *Config) TuningValue() pitch.Tuning {
	t := pitch.DefaultTuning()
	if c.Tuning.Division > 0 {
		t.Division = c.Tuning.Division
	}
	if c.Tuning.ReferenceHz.Positive() {
		t.ReferenceHz = c.Tuning.ReferenceHz
	}
	return t
}

// MIDIChannels returns the channel pool, nil meaning all sixteen
func (c *Config) MIDIChannels() []uint8 {
	var out []uint8
	for _, ch := range c.Output.Channels {
		out = append(out, uint8(ch))
	}
	return out
}

// TickInterval is the scheduler polling interval
func (c *Config) TickInterval() time.Duration {
	if c.Playback.TickMillis <= 0 {
		return 2 * time.Millisecond
	}
	return time.Duration(c.Playback.TickMillis) * time.Millisecond
}

// DebounceDelay is how long edits must be quiet before an autosave
func (c *Config) DebounceDelay() time.Duration {
	if c.Backup.DebounceMilli <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Backup.DebounceMilli) * time.Millisecond
}
