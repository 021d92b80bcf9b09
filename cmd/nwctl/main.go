// Package main implements nwctl, the operator tool for a running
// collector: pause/resume/shutdown via the control file, and offline
// export and diff against the published snapshot database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"nwwatch/internal/control"
	"nwwatch/internal/diff"
	"nwwatch/internal/export"
	"nwwatch/internal/nwwatch"
	"nwwatch/internal/store"
)

const defaultSnapshotPath = "data/current.sqlite3"

func usage() {
	fmt.Fprintf(os.Stderr, `nwctl - collector control and data export

Usage:
  nwctl pause    [-control-dir DIR]   Pause command collection (pings continue)
  nwctl resume   [-control-dir DIR]   Resume command collection
  nwctl shutdown [-control-dir DIR]   Request a graceful collector shutdown
  nwctl status   [-control-dir DIR]   Show the current control state
  nwctl list     [-db PATH]           List devices and commands in the snapshot
  nwctl export   [-db PATH] -command CMD [-device DEV] [options]
                                      Export command runs as text or JSON
  nwctl pings    [-db PATH] -device DEV [options]
                                      Export ping samples as CSV or JSON
  nwctl diff     [-db PATH] -device DEV -command CMD
                                      Diff the two most recent runs
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "pause":
		err = setControl(os.Args[2:], func(s *control.State) { s.CommandsPaused = true }, "Command collection paused")
	case "resume":
		err = setControl(os.Args[2:], func(s *control.State) { s.CommandsPaused = false }, "Command collection resumed")
	case "shutdown":
		err = setControl(os.Args[2:], func(s *control.State) { s.ShutdownRequested = true }, "Shutdown requested")
	case "status":
		err = showStatus(os.Args[2:])
	case "list":
		err = listSnapshot(os.Args[2:])
	case "export":
		err = exportRuns(os.Args[2:])
	case "pings":
		err = exportPings(os.Args[2:])
	case "diff":
		err = diffRuns(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func controlDirFlag(fs *flag.FlagSet) *string {
	return fs.String("control-dir", "control", "Directory holding the control-state file")
}

func setControl(args []string, mutate func(*control.State), message string) error {
	fs := flag.NewFlagSet("control", flag.ExitOnError)
	dir := controlDirFlag(fs)
	_ = fs.Parse(args)

	if _, err := control.Update(control.Path(*dir), mutate); err != nil {
		return err
	}
	fmt.Println(message)
	return nil
}

func showStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dir := controlDirFlag(fs)
	_ = fs.Parse(args)

	state := control.Read(control.Path(*dir))
	fmt.Printf("Commands paused:    %v\n", state.CommandsPaused)
	fmt.Printf("Shutdown requested: %v\n", state.ShutdownRequested)
	if state.UpdatedAt > 0 {
		fmt.Printf("Last updated:       %s\n", time.Unix(state.UpdatedAt, 0).Format(time.RFC3339))
	} else {
		fmt.Println("Last updated:       never")
	}
	return nil
}

func openSnapshot(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("snapshot database %s not found (is the collector running?): %w", path, err)
	}
	// The snapshot belongs to the publisher; consumers must not convert
	// it to WAL or leave journal side files next to it.
	return store.OpenReadOnly(path)
}

func listSnapshot(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", defaultSnapshotPath, "Path to the snapshot database")
	_ = fs.Parse(args)

	st, err := openSnapshot(*dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	devices, err := st.Devices()
	if err != nil {
		return err
	}
	commands, err := st.Commands()
	if err != nil {
		return err
	}

	fmt.Printf("Devices (%d):\n", len(devices))
	for _, d := range devices {
		fmt.Printf("  %s\n", d)
	}
	fmt.Printf("Commands (%d):\n", len(commands))
	for _, c := range commands {
		fmt.Printf("  %s\n", c)
	}
	return nil
}

func exportRuns(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", defaultSnapshotPath, "Path to the snapshot database")
	device := fs.String("device", "", "Device name (omit with -format json to export all devices)")
	command := fs.String("command", "", "Command text (required)")
	format := fs.String("format", "text", "Output format: text or json")
	limit := fs.Int("limit", 1, "Number of most recent runs to export")
	includeFiltered := fs.Bool("include-filtered", false, "Include runs whose output was filtered out")
	_ = fs.Parse(args)

	if *command == "" {
		return fmt.Errorf("-command is required")
	}
	if *limit < 1 {
		return fmt.Errorf("-limit must be at least 1")
	}

	st, err := openSnapshot(*dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if *device == "" {
		if *format != "json" {
			return fmt.Errorf("-device is required for text export")
		}
		return exportAllDevices(st, *command, *limit, *includeFiltered)
	}

	runs, err := st.LatestRuns(*device, *command, *limit, *includeFiltered)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return fmt.Errorf("no runs recorded for %q on %s", *command, *device)
	}

	switch *format {
	case "text":
		parts := make([]string, 0, len(runs))
		for _, run := range runs {
			parts = append(parts, export.RunAsText(run))
		}
		fmt.Println(strings.Join(parts, "\n\n"))
	case "json":
		if *limit == 1 {
			out, err := export.RunAsJSON(runs[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}
		out, err := export.BulkRunsAsJSON(map[string][]nwwatch.Run{*device: runs}, *command, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		return fmt.Errorf("unknown format %q (expected text or json)", *format)
	}
	return nil
}

func exportAllDevices(st *store.Store, command string, limit int, includeFiltered bool) error {
	devices, err := st.Devices()
	if err != nil {
		return err
	}

	runsByDevice := make(map[string][]nwwatch.Run, len(devices))
	for _, device := range devices {
		runs, err := st.LatestRuns(device, command, limit, includeFiltered)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			runsByDevice[device] = runs
		}
	}
	if len(runsByDevice) == 0 {
		return fmt.Errorf("no runs recorded for %q on any device", command)
	}

	out, err := export.BulkRunsAsJSON(runsByDevice, command, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func exportPings(args []string) error {
	fs := flag.NewFlagSet("pings", flag.ExitOnError)
	dbPath := fs.String("db", defaultSnapshotPath, "Path to the snapshot database")
	device := fs.String("device", "", "Device name (required)")
	format := fs.String("format", "csv", "Output format: csv or json")
	minutes := fs.Int("minutes", 60, "Export samples from the last N minutes")
	_ = fs.Parse(args)

	if *device == "" {
		return fmt.Errorf("-device is required")
	}
	if *minutes < 1 {
		return fmt.Errorf("-minutes must be at least 1")
	}

	st, err := openSnapshot(*dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	since := time.Now().Add(-time.Duration(*minutes) * time.Minute).Unix()
	samples, err := st.PingSamples(*device, since)
	if err != nil {
		return err
	}

	var out string
	switch *format {
	case "csv":
		out, err = export.PingSamplesAsCSV(samples, *device)
	case "json":
		out, err = export.PingSamplesAsJSON(samples, *device, time.Now())
	default:
		return fmt.Errorf("unknown format %q (expected csv or json)", *format)
	}
	if err != nil {
		return err
	}
	fmt.Print(out)
	if !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
	return nil
}

func diffRuns(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	dbPath := fs.String("db", defaultSnapshotPath, "Path to the snapshot database")
	device := fs.String("device", "", "Device name (required)")
	command := fs.String("command", "", "Command text (required)")
	includeFiltered := fs.Bool("include-filtered", false, "Include runs whose output was filtered out")
	_ = fs.Parse(args)

	if *device == "" || *command == "" {
		return fmt.Errorf("-device and -command are required")
	}

	st, err := openSnapshot(*dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	runs, err := st.LatestRuns(*device, *command, 2, *includeFiltered)
	if err != nil {
		return err
	}
	if len(runs) < 2 {
		return fmt.Errorf("need at least 2 runs of %q on %s to diff, have %d", *command, *device, len(runs))
	}

	// LatestRuns returns newest first.
	text, err := diff.Unified(runs[1].Output, runs[0].Output)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Println("No differences between the two most recent runs.")
		return nil
	}
	fmt.Print(text)
	return nil
}
