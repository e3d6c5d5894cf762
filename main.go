package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"dieseq/config"
	"dieseq/debug"
	"dieseq/midi"
	"dieseq/project"
	"dieseq/sequencer"
	"dieseq/theme"
	"dieseq/timeline"
	"dieseq/tui"
)

const untitled = "untitled.json"

var (
	outputFlag string
	portFlag   string
	debugFlag  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dieseq [file]",
	Short: "Microtonal piano-roll sequencer",
	Long: `dieseq edits and plays notes on an exact rational timeline with
arbitrary equal-division or scale tunings.

Documents are JSON, or YAML when the file ends in .yaml or .yml.

Examples:
  dieseq song.json
  dieseq --output pipe song.yaml
  dieseq ports
  dieseq export song.json song.mid`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runEditor,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	Args:  cobra.NoArgs,
	RunE:  runPorts,
}

var exportCmd = &cobra.Command{
	Use:   "export <file> <out.mid>",
	Short: "Write a document as a Standard MIDI File",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFlag, "output", "", "output kind: midi, pipe, osc or none")
	rootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "MIDI output port name")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "write a debug log")

	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(exportCmd)
}

// loadConfig reads the config file and applies command-line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if outputFlag != "" {
		cfg.Output.Kind = config.OutputKind(outputFlag)
	}
	if portFlag != "" {
		cfg.Output.PortName = portFlag
	}
	if debugFlag {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Debug {
		if err := debug.Enable(); err != nil {
			fmt.Fprintf(os.Stderr, "debug log: %v\n", err)
		}
	}
	return cfg, nil
}

// openDocument loads path. A missing file starts a new document in the
// configured tuning.
func openDocument(path string, cfg *config.Config) (*project.Document, error) {
	_, statErr := os.Stat(path)
	doc, err := project.Load(path)
	if err != nil {
		return nil, err
	}
	if errors.Is(statErr, os.ErrNotExist) {
		doc.Timeline.Tuning = cfg.TuningValue()
		debug.Log("main", "new document %s", path)
	}
	return doc, nil
}

// openSink builds the configured output
func openSink(cfg *config.Config, division int) (midi.Sink, error) {
	switch cfg.Output.Kind {
	case config.OutputMIDI:
		return midi.NewPortSink(cfg.Output.PortName), nil
	case config.OutputPipe:
		return midi.StartSynth(cfg.Output.SynthCommand, division)
	case config.OutputOSC:
		return midi.NewOSCSink(cfg.Output.OSCHost, cfg.Output.OSCPort), nil
	}
	return midi.Discard{}, nil
}

// newPlayer builds the scheduler with the pitch encoding the output expects:
// a pipe synth is tuned to the grid and takes absolute steps, everything
// else takes MIDI keys with pitch bend.
func newPlayer(cfg *config.Config, store *timeline.Store, sink midi.Sink, opts ...sequencer.Option) *sequencer.Scheduler {
	enc := sequencer.MIDIEncoding(cfg.Output.BendRange)
	if cfg.Output.Kind == config.OutputPipe {
		enc = sequencer.StepEncoding(midi.PipeOctaves)
	}
	opts = append([]sequencer.Option{
		sequencer.WithEncoding(enc),
		sequencer.WithChannels(cfg.MIDIChannels()),
		sequencer.WithTickInterval(cfg.TickInterval()),
	}, opts...)
	return sequencer.New(store, sink, opts...)
}

func runEditor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer debug.Disable()

	path := untitled
	if len(args) == 1 {
		path = args[0]
	}

	doc, err := openDocument(path, cfg)
	if err != nil {
		return err
	}

	store := timeline.NewStore(doc.Timeline)
	store.SetMinDuration(cfg.Editor.MinDuration)

	sink, err := openSink(cfg, store.Tuning().StepsPerOctave())
	if err != nil {
		return err
	}
	if cl, ok := sink.(midi.Closer); ok {
		defer cl.Close()
	}

	player := newPlayer(cfg, store, sink)

	session := tui.NewSession(path, store, player)
	ed := session.Editor
	ed.Grid = cfg.Editor.Grid
	ed.NoteLength = cfg.Editor.NoteLength
	ed.EdgePx = cfg.Editor.EdgeTolerance
	ed.Velocity = cfg.Editor.Velocity
	session.Restore(doc)

	palette := theme.Default()
	if cfg.UI.Palette != "" {
		if p, err := theme.LoadGPL(cfg.UI.Palette); err != nil {
			debug.Warn("main", err, nil)
		} else {
			palette = p
		}
	}
	th := theme.New(palette)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	// the player and autosaver finish before the sink closes
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := player.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			debug.Error("main", err, nil)
		}
	}()

	if cfg.Backup.Autosave {
		saver := project.NewAutosaver(store, project.BackupName(path), cfg.DebounceDelay(), cfg.Backup.Keep, session.Snapshot)
		wg.Add(1)
		go func() {
			defer wg.Done()
			saver.Run(ctx)
		}()
	}

	m := tui.NewModel(session, th)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := midi.OutPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no MIDI output ports")
		return nil
	}
	for i, name := range ports {
		fmt.Printf("%d: %s\n", i, name)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer debug.Disable()

	in, out := args[0], args[1]
	if _, err := os.Stat(in); err != nil {
		return err
	}
	doc, err := project.Load(in)
	if err != nil {
		return err
	}
	if ext := strings.ToLower(filepath.Ext(out)); ext != ".mid" && ext != ".midi" {
		debug.Log("main", "export to %s without a .mid extension", out)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	opts := project.ExportOptions{BendRange: cfg.Output.BendRange, Channels: cfg.MIDIChannels()}
	if err := project.ExportSMF(doc, f, opts); err != nil {
		f.Close()
		return fmt.Errorf("export %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d notes)\n", out, doc.Timeline.Len())
	return nil
}
