package project

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/timeline"
)

func r(s string) rational.Rat { return rational.MustParse(s) }

func sampleDoc(t *testing.T) *Document {
	t.Helper()
	doc := NewDocument()
	tl := doc.Timeline
	tl.Tempo = r("140")
	tl.Loop = timeline.Loop{Enabled: true, Start: r("1/3"), End: r("7/2")}
	tl.Add(r("1/3"), r("1/7"), pitch.FromOctaves(r("3/7")))
	id := tl.Add(r("0"), r("5/2"), pitch.FromOctaves(r("4")))
	n, _ := tl.Note(id)
	n.Velocity = 64
	n.Selected = true
	doc.Position = r("9/4")
	doc.View = &View{Left: r("1/2"), Top: 130, PxPerBeat: 12.5, PxPerStep: 2}
	return doc
}

func assertSameDocument(t *testing.T, want, got *Document) {
	t.Helper()
	assert.True(t, want.Timeline.Tempo.Equal(got.Timeline.Tempo))
	assert.Equal(t, want.Timeline.Loop.Enabled, got.Timeline.Loop.Enabled)
	assert.True(t, want.Timeline.Loop.Start.Equal(got.Timeline.Loop.Start))
	assert.True(t, want.Timeline.Loop.End.Equal(got.Timeline.Loop.End))
	assert.True(t, want.Position.Equal(got.Position))
	require.NotNil(t, got.View)
	assert.True(t, want.View.Left.Equal(got.View.Left))
	assert.Equal(t, want.View.Top, got.View.Top)

	wn, gn := want.Timeline.Notes(), got.Timeline.Notes()
	require.Len(t, gn, len(wn))
	for i := range wn {
		assert.Equal(t, wn[i].ID, gn[i].ID)
		assert.True(t, wn[i].Start.Equal(gn[i].Start), "start of %d", wn[i].ID)
		assert.True(t, wn[i].Duration.Equal(gn[i].Duration), "duration of %d", wn[i].ID)
		assert.True(t, wn[i].Pitch.Equal(gn[i].Pitch), "pitch of %d", wn[i].ID)
		assert.Equal(t, wn[i].Velocity, gn[i].Velocity)
		assert.False(t, gn[i].Selected)
	}
}

func TestRoundTripIsExact(t *testing.T) {
	for _, f := range []Format{JSON, YAML} {
		t.Run(f.String(), func(t *testing.T) {
			doc := sampleDoc(t)
			data, err := Serialize(doc, f)
			require.NoError(t, err)
			assert.Contains(t, string(data), "3/7")

			got, err := Deserialize(data, f)
			require.NoError(t, err)
			assertSameDocument(t, doc, got)

			// new notes continue after the loaded ids
			id := got.Timeline.Add(r("0"), r("1"), pitch.FromOctaves(r("1")))
			assert.Equal(t, timeline.NoteID(3), id)
		})
	}
}

func TestDeserializeAcceptsHandWrittenYAML(t *testing.T) {
	data := []byte(`
tempo: 90
tuning:
  division: 12
  reference_hz: "440"
notes:
  - start: 0.5
    duration: 1/3
    pitch: "0"
  - id: 1
    start: 0
    duration: 1
    pitch: 1/12
`)
	doc, err := Deserialize(data, YAML)
	require.NoError(t, err)

	notes := doc.Timeline.Notes()
	require.Len(t, notes, 2)
	assert.Equal(t, timeline.NoteID(1), notes[0].ID)
	assert.Equal(t, "1/12", notes[0].Pitch.String())
	assert.Equal(t, timeline.NoteID(2), notes[1].ID)
	assert.Equal(t, "1/2", notes[1].Start.String())
	assert.Equal(t, uint8(timeline.DefaultVelocity), notes[1].Velocity)
	assert.Equal(t, 12, doc.Timeline.Tuning.Division)
}

func TestScaleTuningRoundTripsWithoutDivision(t *testing.T) {
	for _, f := range []Format{JSON, YAML} {
		t.Run(f.String(), func(t *testing.T) {
			doc := NewDocument()
			doc.Timeline.Tuning = pitch.Tuning{
				ReferenceHz: r("440"),
				Scale:       []rational.Rat{r("0"), r("1/3"), r("7/12")},
			}
			data, err := Serialize(doc, f)
			require.NoError(t, err)

			got, err := Deserialize(data, f)
			require.NoError(t, err)
			tun := got.Timeline.Tuning
			assert.Equal(t, 0, tun.Division)
			require.Len(t, tun.Scale, 3)
			assert.True(t, r("7/12").Equal(tun.Scale[2]))
			assert.Equal(t, 3, tun.StepsPerOctave())
		})
	}

	// an EDO document without a division still gets the default
	got, err := Deserialize([]byte(`{"tuning":{"reference_hz":"440"},"notes":[]}`), JSON)
	require.NoError(t, err)
	assert.Equal(t, pitch.DefaultDivision, got.Timeline.Tuning.Division)
}

func TestDeserializeRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		json string
		is   error
	}{
		{"zero duration", `{"tempo":"120","notes":[{"id":1,"start":"0","duration":"0","pitch":"4"}]}`, timeline.ErrInvalidDuration},
		{"zero tempo", `{"tempo":"0","notes":[]}`, timeline.ErrInvalidTempo},
		{"bad loop", `{"tempo":"120","loop":{"enabled":true,"start":"2","end":"1"},"notes":[]}`, timeline.ErrInvalidLoop},
		{"bad rational", `{"tempo":"1/x","notes":[]}`, nil},
		{"duplicate id", `{"notes":[{"id":1,"start":"0","duration":"1","pitch":"4"},{"id":1,"start":"1","duration":"1","pitch":"4"}]}`, nil},
		{"future version", `{"version":99,"notes":[]}`, nil},
		{"not json", `{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize([]byte(tt.json), JSON)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, YAML, FormatFor("song.yaml"))
	assert.Equal(t, YAML, FormatFor("song.YML"))
	assert.Equal(t, JSON, FormatFor("song.json"))
	assert.Equal(t, JSON, FormatFor("song"))
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "new.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Timeline.Len())
	assert.Equal(t, "120", doc.Timeline.Tempo.String())
}

func TestLoadErrorWrapsCause(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tempo":"-1","notes":[]}`), 0644))

	_, err := Load(path)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, path, le.Path)
	assert.ErrorIs(t, err, timeline.ErrInvalidTempo)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "song.yaml")
	doc := sampleDoc(t)
	require.NoError(t, Save(path, doc))

	got, err := Load(path)
	require.NoError(t, err)
	assertSameDocument(t, doc, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestSaveFailureKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.json")
	require.NoError(t, Save(path, sampleDoc(t)))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// a directory where the temp file would go makes the write fail
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0644))
	err = Save(filepath.Join(blocked, "song.json"), NewDocument())
	var se *SaveError
	require.ErrorAs(t, err, &se)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBackupsNewestFirstAndPruned(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)

	for i := range 5 {
		_, err := Backup("song", sampleDoc(t), base.Add(time.Duration(i)*time.Minute), 3)
		require.NoError(t, err)
	}

	backups, err := ListBackups("song")
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.True(t, backups[0].Timestamp.Equal(base.Add(4*time.Minute)))
	assert.True(t, backups[2].Timestamp.Equal(base.Add(2*time.Minute)))

	doc, err := Load(backups[0].Path)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Timeline.Len())

	none, err := ListBackups("other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBackupName(t *testing.T) {
	assert.Equal(t, "song", BackupName("/tmp/music/song.yaml"))
	assert.Equal(t, "song", BackupName("song"))
}

func TestAutosaverBacksUpAfterQuietPeriod(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := timeline.NewStore(nil)
	a := NewAutosaver(store, "auto", 20*time.Millisecond, 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	for range 10 {
		store.AddNote(r("0"), r("1"), pitch.FromOctaves(r("4")))
	}
	require.Eventually(t, func() bool {
		b, _ := ListBackups("auto")
		return len(b) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	backups, err := ListBackups("auto")
	require.NoError(t, err)
	require.Len(t, backups, 1, "no changes after the first backup")
	doc, err := Load(backups[0].Path)
	require.NoError(t, err)
	assert.Equal(t, 10, doc.Timeline.Len())
}

type smfEvent struct {
	tick uint64
	msg  gomidi.Message
}

func readSMF(t *testing.T, data []byte) []smfEvent {
	t.Helper()
	s, err := smf.ReadFrom(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, s.Tracks, 1)

	var out []smfEvent
	var tick uint64
	for _, ev := range s.Tracks[0] {
		tick += uint64(ev.Delta)
		out = append(out, smfEvent{tick, gomidi.Message(ev.Message)})
	}
	return out
}

func TestExportSMF(t *testing.T) {
	doc := NewDocument()
	tl := doc.Timeline
	a4 := pitch.FromOctaves(r("4"))
	tl.Add(r("0"), r("1"), a4)
	// a quarter of a semitone above A4 needs a bend
	tl.Add(r("1/2"), r("1/2"), pitch.Transpose(a4, r("1/48")))
	tl.Loop = timeline.Loop{Enabled: true, Start: r("0"), End: r("1/2")}

	var buf bytes.Buffer
	require.NoError(t, ExportSMF(doc, &buf, ExportOptions{}))

	type noteEv struct {
		tick uint64
		on   bool
		key  uint8
	}
	var notes []noteEv
	var bends []int16
	for _, ev := range readSMF(t, buf.Bytes()) {
		var ch, key, vel uint8
		var rel int16
		var abs uint16
		switch {
		case ev.msg.GetNoteStart(&ch, &key, &vel):
			notes = append(notes, noteEv{ev.tick, true, key})
		case ev.msg.GetNoteEnd(&ch, &key):
			notes = append(notes, noteEv{ev.tick, false, key})
		case ev.msg.GetPitchBend(&ch, &rel, &abs):
			bends = append(bends, rel)
		}
	}

	assert.Equal(t, []noteEv{
		{0, true, 69},
		{480, true, 69},
		{960, false, 69},
		{960, false, 69},
	}, notes)
	require.Len(t, bends, 1)
	assert.Equal(t, int16(1024), bends[0])
	// the document itself is untouched
	assert.True(t, tl.Loop.Enabled)
}

func TestExportSkipsUnencodableNotes(t *testing.T) {
	doc := NewDocument()
	doc.Timeline.Add(r("0"), r("1"), pitch.FromOctaves(r("12")))

	var buf bytes.Buffer
	require.NoError(t, ExportSMF(doc, &buf, ExportOptions{}))
	for _, ev := range readSMF(t, buf.Bytes()) {
		var ch, key, vel uint8
		assert.False(t, ev.msg.GetNoteStart(&ch, &key, &vel))
	}
}

func TestSaveErrorMessage(t *testing.T) {
	err := &SaveError{Path: "x.json", Err: errors.New("disk full")}
	assert.Equal(t, "save x.json: disk full", err.Error())
	assert.ErrorIs(t, err, err.Err)
}
