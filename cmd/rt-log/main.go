// Command rt-log is a tool for viewing and analyzing realtime capture
// log files.
//
// Capture files are produced by the protocol capture logger, e.g. when
// running rt-probe with the -capture flag.
//
// Usage:
//
//	rt-log <command> [flags] <file.rtlog>
//
// Commands:
//
//	view   View capture file in human-readable format
//	stats  Show statistics about the capture file
//
// Examples:
//
//	# View all events
//	rt-log view probe.rtlog
//
//	# View only transport-layer events
//	rt-log view -layer transport probe.rtlog
//
//	# View only outgoing messages
//	rt-log view -direction out probe.rtlog
//
//	# Show statistics
//	rt-log stats probe.rtlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/parcelview/realtime-go/cmd/rt-log/commands"
)

const usage = `rt-log - Realtime Capture Log Analyzer

Usage:
  rt-log <command> [flags] <file.rtlog>

Commands:
  view   View capture file in human-readable format
  stats  Show statistics about the capture file

Use "rt-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `rt-log view - View capture file in human-readable format

Usage:
  rt-log view [flags] <file.rtlog>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (transport, envelope, session, telemetry)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	connID := fs.String("conn-id", "", "Filter by connection ID prefix")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}

	var filter commands.ViewFilter
	filter.ConnID = *connID

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Category = &c
	}

	if err := commands.RunView(fs.Arg(0), filter, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `rt-log stats - Show statistics about the capture file

Usage:
  rt-log stats <file.rtlog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunStats(fs.Arg(0), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
