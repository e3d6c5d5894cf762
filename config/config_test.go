package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"DIESEQ_PORT", "DIESEQ_OUTPUT", "DIESEQ_DEBUG"} {
		t.Setenv(k, "")
	}
	return home
}

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	dir := filepath.Join(home, ".config", "dieseq")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0644))
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	withHome(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, OutputMIDI, cfg.Output.Kind)
	assert.Equal(t, 31, cfg.TuningValue().Division)
	assert.Equal(t, "55/2", cfg.TuningValue().ReferenceHz.String())
	assert.Equal(t, "1/4", cfg.Editor.Grid.String())
	assert.Equal(t, 2*time.Millisecond, cfg.TickInterval())
	assert.True(t, cfg.Backup.Autosave)
	assert.Nil(t, cfg.MIDIChannels())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	home := withHome(t)
	writeConfig(t, home, `{
  "output": {"kind": "pipe", "channels": [0, 1, 2]},
  "tuning": {"division": 19},
  "editor": {"grid": "1/3"},
  "backup": {"autosave": false}
}`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, OutputPipe, cfg.Output.Kind)
	assert.Equal(t, []uint8{0, 1, 2}, cfg.MIDIChannels())
	assert.Equal(t, 19, cfg.TuningValue().Division)
	assert.Equal(t, "1/3", cfg.Editor.Grid.String())
	assert.Equal(t, "1/2", cfg.Editor.NoteLength.String())
	assert.False(t, cfg.Backup.Autosave)
	assert.Equal(t, "med --pipe", cfg.Output.SynthCommand)
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, body := range map[string]string{
		"unknown output": `{"output": {"kind": "speaker"}}`,
		"channel":        `{"output": {"kind": "midi", "channels": [16]}}`,
		"velocity":       `{"editor": {"velocity": 200}}`,
		"syntax":         `{"output":`,
	} {
		t.Run(name, func(t *testing.T) {
			home := withHome(t)
			writeConfig(t, home, body)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	withHome(t)
	t.Setenv("DIESEQ_PORT", "IAC Driver Bus 1")
	t.Setenv("DIESEQ_OUTPUT", "osc")
	t.Setenv("DIESEQ_DEBUG", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "IAC Driver Bus 1", cfg.Output.PortName)
	assert.Equal(t, OutputOSC, cfg.Output.Kind)
	assert.True(t, cfg.Debug)

	t.Setenv("DIESEQ_OUTPUT", "speaker")
	_, err = Load()
	assert.Error(t, err)
}

func TestDotenvFile(t *testing.T) {
	home := withHome(t)
	dir := filepath.Join(home, ".config", "dieseq")
	require.NoError(t, os.MkdirAll(dir, 0755))
	env := "# output for this machine\nDIESEQ_OUTPUT=pipe\nDIESEQ_PORT=\"From File\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, OutputPipe, cfg.Output.Kind)
	assert.Equal(t, "From File", cfg.Output.PortName)

	t.Setenv("DIESEQ_OUTPUT", "none")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, OutputNone, cfg.Output.Kind)
	assert.Equal(t, "From File", cfg.Output.PortName)
}

func TestSaveRoundTrip(t *testing.T) {
	withHome(t)
	cfg := DefaultConfig()
	cfg.Output.PortName = "Synth"
	cfg.Editor.Grid = cfg.Editor.Grid.Quo(cfg.Editor.NoteLength)
	require.NoError(t, cfg.Save())

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Synth", got.Output.PortName)
	assert.Equal(t, "1/2", got.Editor.Grid.String())
}
