package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"dieseq/midi"
	"dieseq/pitch"
	"dieseq/rational"
	"dieseq/sequencer"
	"dieseq/timeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "scale":
		playScale(os.Args[2:])
	case "poll":
		pollDevices()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("Tuning Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list                     - List all MIDI ports")
	fmt.Println("  scale [division] [port]  - Play one octave of an equal division")
	fmt.Println("  poll                     - Poll for device changes")
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	type result struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan result, 1)
	go func() {
		ins := gomidi.GetInPorts()
		outs := gomidi.GetOutPorts()
		ch <- result{ins: ins, outs: outs}
	}()

	select {
	case r := <-ch:
		for i, p := range r.ins {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
		fmt.Println("\n=== MIDI Output Ports ===")
		for i, p := range r.outs {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
	}
}

// playScale schedules every step of one octave from A4 upwards, a quarter
// beat apart at 120 bpm, and plays it through the real scheduler
func playScale(args []string) {
	division := pitch.DefaultDivision
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Printf("Bad division %q\n", args[0])
			return
		}
		division = n
	}
	port := ""
	if len(args) > 1 {
		port = args[1]
	}

	tun := pitch.DefaultTuning()
	tun.Division = division
	tl := timeline.New()
	tl.Tuning = tun
	store := timeline.NewStore(tl)

	step := rational.New(1, 4)
	a4 := int64(4 * division)
	for k := int64(0); k <= int64(division); k++ {
		store.AddNote(step.Mul(rational.Int(k)), step, tun.PitchAt(a4+k))
	}

	sink := midi.NewPortSink(port)
	defer sink.Close()
	player := sequencer.New(store, sink, sequencer.WithChannels([]uint8{0, 1, 2, 3}))

	// one extra beat lets the last note off go out
	beats := store.Snapshot().End().Add(rational.Int(1))
	length := time.Duration(beats.Float64() * float64(time.Minute) / timeline.DefaultTempo)

	fmt.Printf("Playing %d-EDO on %q (%s)...\n", division, portLabel(port), length.Round(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), length)
	defer cancel()
	player.Start()
	if err := player.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Done!")
}

func portLabel(name string) string {
	if name == "" {
		return "first output"
	}
	return name
}

func pollDevices() {
	fmt.Println("Polling for device changes every 2 seconds...")
	fmt.Println("Connect/disconnect a synth to test. Ctrl+C to exit.")

	lastOut := ""

	for {
		outs, err := midi.OutPorts()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		}

		currentOut := strings.Join(outs, ",")
		if currentOut != lastOut {
			fmt.Printf("\n[%s] Device change detected!\n", time.Now().Format("15:04:05"))
			fmt.Printf("  Outputs: %v\n", outs)
			lastOut = currentOut
		}

		time.Sleep(2 * time.Second)
	}
}
