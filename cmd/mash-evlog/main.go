// Command mash-evlog views event log archives written by a collector and
// protocol trace files written with --trace.
//
// Usage:
//
//	mash-evlog <command> [flags] <file>
//
// Commands:
//
//	view     View archive records in human-readable format
//	export   Export archive records to JSONL or CSV
//	stats    Show per-importance statistics of an archive
//	trace    View a protocol trace file
//
// Examples:
//
//	# View only critical events
//	mash-evlog view --importance critical wallbox-20260314T090000-1a2b3c4d.evlog
//
//	# Export to CSV
//	mash-evlog export --format csv -o events.csv wallbox.evlog
//
//	# Show upload transfer steps
//	mash-evlog trace --category transfer device.mlog
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mash-protocol/mash-sync/cmd/mash-evlog/commands"
	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/log"
)

const usage = `mash-evlog - MASH event log archive viewer

Usage:
  mash-evlog <command> [flags] <file>

Commands:
  view     View archive records in human-readable format
  export   Export archive records to JSONL or CSV
  stats    Show per-importance statistics of an archive
  trace    View a protocol trace file

Use "mash-evlog <command> --help" for more information about a command.
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
	case "export":
		runExport(args)
	case "stats":
		runStats(args)
	case "trace":
		runTrace(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func newFlagSet(name, synopsis string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mash-evlog %s - %s\n\nUsage:\n  mash-evlog %s [flags] <file>\n\nFlags:\n", name, synopsis, name)
		fs.PrintDefaults()
	}
	return fs
}

// fileArg returns the single positional argument or exits.
func fileArg(fs *pflag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func parseViewFilter(importance, profile string) commands.ViewFilter {
	var filter commands.ViewFilter
	if importance != "" {
		imp, err := eventlog.ParseImportance(importance)
		if err != nil {
			fail(err)
		}
		filter.Importance = &imp
	}
	if profile != "" {
		p, err := strconv.ParseUint(strings.TrimPrefix(profile, "0x"), 16, 32)
		if err != nil {
			fail(fmt.Errorf("invalid profile id %q", profile))
		}
		id := uint32(p)
		filter.ProfileID = &id
	}
	return filter
}

func runView(args []string) {
	fs := newFlagSet("view", "View archive records in human-readable format")
	importance := fs.StringP("importance", "i", "", "Filter by importance (critical, production, info, debug)")
	profile := fs.StringP("profile", "p", "", "Filter by profile id (hex)")
	_ = fs.Parse(args)

	path := fileArg(fs)
	if err := commands.RunView(path, parseViewFilter(*importance, *profile), os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export archive records to JSONL or CSV")
	format := fs.StringP("format", "f", "jsonl", "Output format (jsonl, csv)")
	output := fs.StringP("output", "o", "", "Output file (default: stdout)")
	importance := fs.StringP("importance", "i", "", "Filter by importance (critical, production, info, debug)")
	profile := fs.StringP("profile", "p", "", "Filter by profile id (hex)")
	_ = fs.Parse(args)

	path := fileArg(fs)
	if err := commands.RunExport(path, *format, *output, parseViewFilter(*importance, *profile)); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show per-importance statistics of an archive")
	_ = fs.Parse(args)

	if err := commands.RunStats(fileArg(fs), os.Stdout); err != nil {
		fail(err)
	}
}

func runTrace(args []string) {
	fs := newFlagSet("trace", "View a protocol trace file")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, engine)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, transfer, state, error)")
	peer := fs.String("peer", "", "Filter by peer id")
	sub := fs.Uint64("subscription", 0, "Filter by subscription id")
	_ = fs.Parse(args)

	path := fileArg(fs)
	filter := log.Filter{PeerID: *peer, SubscriptionID: *sub}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunTrace(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}
