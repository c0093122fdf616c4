package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"

	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/model"
	"github.com/mash-protocol/mash-sync/pkg/schema"
)

// Console is the interactive command line of mash-syncd.
type Console struct {
	d  *Daemon
	rl *readline.Instance
}

// NewConsole creates a console. Bind it to a daemon with Attach before
// Run.
func NewConsole() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sync> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("help"),
			readline.PcItem("status"),
			readline.PcItem("subs"),
			readline.PcItem("show"),
			readline.PcItem("set", readline.PcItem("power"), readline.PcItem("status")),
			readline.PcItem("log",
				readline.PcItem("critical"), readline.PcItem("production"),
				readline.PcItem("info"), readline.PcItem("debug")),
			readline.PcItem("level",
				readline.PcItem("critical"), readline.PcItem("production"),
				readline.PcItem("info"), readline.PcItem("debug")),
			readline.PcItem("upload"),
			readline.PcItem("abort"),
			readline.PcItem("stats"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Attach binds the console to d.
func (c *Console) Attach(d *Daemon) {
	c.d = d
}

// Stdout returns a writer that does not garble the prompt. Route log
// output through it while the console runs.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until EOF, quit or ctx is done. cancel is called
// when the user exits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	out := c.rl.Stdout()
	c.printHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !c.Execute(out, strings.ToLower(fields[0]), fields[1:]) {
			cancel()
			return
		}
	}
}

// Execute runs one command and reports whether the console should keep
// running.
func (c *Console) Execute(out io.Writer, cmd string, args []string) bool {
	var err error
	switch cmd {
	case "help", "?":
		c.printHelp(out)
	case "status", "st":
		err = c.cmdStatus(out)
	case "subs":
		err = c.cmdSubs(out)
	case "show":
		err = c.cmdShow(out, args)
	case "set":
		err = c.cmdSet(out, args)
	case "log":
		err = c.cmdLog(out, args)
	case "level":
		err = c.cmdLevel(out, args)
	case "upload", "up":
		err = c.cmdUpload(out, args)
	case "abort":
		err = c.d.AbortUpload()
	case "stats":
		c.cmdStats(out)
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
	return true
}

func (c *Console) printHelp(out io.Writer) {
	fmt.Fprint(out, `Commands:
  status                       Device, connection and upload status
  subs                         Served and held subscriptions
  show [device-id profile]     Local measurement or a remote mirror (hex ids)
  set power <mW>               Set the measured power
  set status <text|null>       Set the measurement status
  log <importance> <text...>   Record an operator event
  level [importance]           Show or set the event log level
  upload [address]             Upload the event log now
  abort                        Abort the running upload
  stats                        Event log statistics
  quit                         Stop the daemon
`)
}

func (c *Console) cmdStatus(out io.Writer) error {
	st, err := c.d.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Device:      %016x (%s)\n", st.DeviceID, st.Name)
	fmt.Fprintf(out, "Listening:   %s\n", st.Address)
	fmt.Fprintf(out, "Peers:       %d\n", st.Peers)
	fmt.Fprintf(out, "Handlers:    %d\n", st.Handlers)
	fmt.Fprintf(out, "Clients:     %d\n", st.Clients)
	fmt.Fprintf(out, "Log level:   %s\n", st.Level)
	fmt.Fprintf(out, "Upload:      %s (%d sessions, %d completed, %d failed, %d events)\n",
		st.Upload, st.UploadStats.Sessions, st.UploadStats.Completed, st.UploadStats.Failed, st.UploadStats.Events)
	if r := st.LastUpload; r != nil {
		if r.Err != nil {
			fmt.Fprintf(out, "Last upload: %s failed: %v\n", r.At.Format("15:04:05"), r.Err)
		} else {
			fmt.Fprintf(out, "Last upload: %s %d events in %d blocks\n", r.At.Format("15:04:05"), r.Summary.Events, r.Summary.Blocks)
		}
	}
	if c.d.receiver != nil {
		fmt.Fprintf(out, "Collector:   %d active, %d archived, %d rejected\n", st.Sessions, st.Archived, st.Rejected)
	}
	return nil
}

func (c *Console) cmdSubs(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	err := c.d.call(func() {
		fmt.Fprintln(tw, "SIDE\tPEER\tID\tSTATE\tDETAIL")
		for _, h := range c.d.engine.Handlers() {
			fmt.Fprintf(tw, "handler\t%s\t%d\t%s\t%d roots, %d dirty\n", shortID(string(h.Peer())), h.ID(), h.State(), len(h.Roots()), h.Dirty())
		}
		for _, cl := range c.d.engine.Clients() {
			applied, skipped := cl.Applied()
			fmt.Fprintf(tw, "client\t%s\t%d\t%s\t%d applied, %d skipped\n", shortID(string(cl.Peer())), cl.SubscriptionID(), cl.State(), applied, skipped)
		}
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}

func (c *Console) cmdShow(out io.Writer, args []string) error {
	if len(args) == 0 {
		printSnapshot(out, "Measurement (local)", c.d.measurement.Snapshot())
		return nil
	}
	if len(args) != 2 {
		return errors.New("usage: show [device-id profile]")
	}
	dev, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid device id %q", args[0])
	}
	profile, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("invalid profile %q", args[1])
	}
	snap, ok := c.d.Mirror(dev, uint32(profile))
	if !ok {
		return fmt.Errorf("no mirror of profile 0x%08x for device %016x", profile, dev)
	}
	name := fmt.Sprintf("0x%08x", profile)
	if desc, ok := model.Lookup(uint32(profile)); ok {
		name = desc.Name
	}
	printSnapshot(out, fmt.Sprintf("%s of %016x", name, dev), snap)
	return nil
}

func printSnapshot(out io.Writer, title string, snap map[schema.PropertyPathHandle]any) {
	paths := make([]schema.PropertyPathHandle, 0, len(snap))
	for p := range snap {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	fmt.Fprintf(out, "%s:\n", title)
	if len(paths) == 0 {
		fmt.Fprintln(out, "  (empty)")
	}
	for _, p := range paths {
		fmt.Fprintf(out, "  %-12s %v\n", p, snap[p])
	}
}

func (c *Console) cmdSet(out io.Writer, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set power <mW> | set status <text|null>")
	}
	switch args[0] {
	case "power":
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid power %q", args[1])
		}
		if err := c.d.SetMeasurement(model.MeasurementPower, v); err != nil {
			return err
		}
	case "status":
		var v any = args[1]
		if args[1] == "null" {
			v = nil
		}
		if err := c.d.SetMeasurement(model.MeasurementStatus, v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown property %q", args[0])
	}
	fmt.Fprintf(out, "%s = %s\n", args[0], args[1])
	return nil
}

func (c *Console) cmdLog(out io.Writer, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: log <importance> <text...>")
	}
	imp, err := eventlog.ParseImportance(args[0])
	if err != nil {
		return err
	}
	id, err := c.d.LogOperator(imp, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Logged %s event #%d\n", imp, id)
	return nil
}

func (c *Console) cmdLevel(out io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(out, "Level: %s\n", c.d.events.Level())
		return nil
	}
	imp, err := eventlog.ParseImportance(args[0])
	if err != nil {
		return err
	}
	if err := c.d.SetLogLevel(imp); err != nil {
		return err
	}
	fmt.Fprintf(out, "Level: %s\n", imp)
	return nil
}

func (c *Console) cmdUpload(out io.Writer, args []string) error {
	var addr string
	if len(args) > 0 {
		addr = args[0]
	}
	if err := c.d.UploadNow(addr); err != nil {
		return err
	}
	fmt.Fprintln(out, "Upload started")
	return nil
}

func (c *Console) cmdStats(out io.Writer) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "LEVEL\tLOGGED\tEVICTED\tFILTERED\tENTRIES\tBYTES\tCAPACITY\tFIRST\tLAST\t")
	for _, s := range c.d.events.Stats() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			s.Importance, s.Logged, s.Evicted, s.Filtered, s.Entries, s.Bytes, s.Capacity, s.FirstID, s.LastID)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
