// Command opsbus is the filesystem-backed event bus for the automation
// fleet: emit and validate events, run dispatch sweeps, manage the archive
// lifecycle, and replay history.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gyaneshwarpardhi/opsbus/internal/archive"
	"github.com/gyaneshwarpardhi/opsbus/internal/config"
	"github.com/gyaneshwarpardhi/opsbus/internal/dispatch"
	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/eventlog"
	"github.com/gyaneshwarpardhi/opsbus/internal/handler"
	"github.com/gyaneshwarpardhi/opsbus/internal/queue"
	"github.com/gyaneshwarpardhi/opsbus/internal/replay"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

const usage = `usage: opsbus <command> [flags]

commands:
  emit      create, validate, and durably log one event
  validate  check a raw event document against the contract
  sweep     run one dispatch pass over the pending queue
  archive   run the age-based archive lifecycle
  replay    select historical events and optionally re-invoke handlers
  queue     list pending or parked events
  watch     run trigger-driven sweeps until interrupted

common flags (every command): -config PATH, -root DIR, -v
`

// exit codes: 0 ok, 1 operation failed, 2 usage/config/storage error.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUsage)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var code int
	switch cmd {
	case "emit":
		code = cmdEmit(args)
	case "validate":
		code = cmdValidate(args)
	case "sweep":
		code = cmdSweep(args)
	case "archive":
		code = cmdArchive(args)
	case "replay":
		code = cmdReplay(args)
	case "queue":
		code = cmdQueue(args)
	case "watch":
		code = cmdWatch(args)
	default:
		fmt.Fprintf(os.Stderr, "opsbus: unknown command %q\n\n%s", cmd, usage)
		code = exitUsage
	}
	os.Exit(code)
}

// app bundles the components every command wires the same way.
type app struct {
	cfg *config.Config
	lay storage.Layout
	tax *event.Taxonomy
	q   *queue.Store
	log *eventlog.Logger
	reg *handler.Registry
}

// commonFlags adds the flags shared by all commands to fs.
func commonFlags(fs *flag.FlagSet) (cfgPath, root *string, verbose *bool) {
	cfgPath = fs.String("config", os.Getenv("OPSBUS_CONFIG"), "path to opsbus YAML config")
	root = fs.String("root", "", "storage root directory (overrides config)")
	verbose = fs.Bool("v", false, "debug logging")
	return
}

// setup loads config, prepares logging, and verifies the storage root. A
// bad root is the one fatal condition; nothing can proceed without it.
func setup(cfgPath, root string, verbose bool) (*app, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if root != "" {
		cfg.Root = root
	}
	lay := storage.Layout{Root: cfg.Root}
	if err := lay.Ensure(); err != nil {
		return nil, err
	}
	q := queue.New(lay)
	return &app{
		cfg: cfg,
		lay: lay,
		tax: event.DefaultTaxonomy(),
		q:   q,
		log: eventlog.New(lay, q),
		reg: handler.FromConfig(cfg.Handlers),
	}, nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "opsbus: %v\n", err)
	return exitUsage
}

func cmdEmit(args []string) int {
	fs := flag.NewFlagSet("emit", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	typ := fs.String("type", "", "event type from the taxonomy (required)")
	source := fs.String("source", "", "emitting component/instance (required)")
	payload := fs.String("payload", "{}", "payload as a JSON object")
	corrID := fs.String("correlation-id", "", "id linking causally related events")
	priority := fs.String("priority", "", "critical|high|medium|low (default medium)")
	fs.Parse(args)

	a, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return fail(err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal([]byte(*payload), &body); err != nil {
		fmt.Fprintf(os.Stderr, "opsbus: payload is not a JSON object: %v\n", err)
		return exitFail
	}
	prio, err := event.ParsePriority(*priority)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opsbus: %v\n", err)
		return exitFail
	}
	ev := event.New(*typ, *source, body, *corrID, prio)
	if err := event.ValidateEvent(ev, a.tax); err != nil {
		fmt.Fprintf(os.Stderr, "opsbus: %v\n", err)
		return exitFail
	}
	if err := a.log.Log(ev); err != nil {
		fmt.Fprintf(os.Stderr, "opsbus: %v\n", err)
		return exitFail
	}
	fmt.Println(ev.ID)
	return exitOK
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	fs.Parse(args)

	a, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return fail(err)
	}

	raw, err := readInput(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	ev, err := event.Validate(raw, a.tax)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		return exitFail
	}
	fmt.Printf("valid: %s %s from %s\n", ev.ID, ev.Type, ev.Source)
	return exitOK
}

// readInput reads an event document from a file argument or stdin.
func readInput(arg string) ([]byte, error) {
	if arg == "" || arg == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(arg)
}

func cmdSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	fs.Parse(args)

	a, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return fail(err)
	}

	sum, err := dispatch.New(a.lay, a.q, a.reg).Sweep(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "opsbus: sweep: %v\n", err)
		return exitUsage
	}
	fmt.Printf("pending=%d processed=%d failed=%d conflicts=%d unhandled=%d\n",
		sum.Pending, sum.Processed, sum.Failed, sum.Conflicts, sum.Unhandled)
	if sum.HadFailures() {
		return exitFail
	}
	return exitOK
}

func cmdArchive(args []string) int {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	modeStr := fs.String("mode", "full", "full|compress-only|cleanup-only")
	dryRun := fs.Bool("dry-run", false, "report planned transitions without side effects")
	fs.Parse(args)

	a, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return fail(err)
	}
	mode, err := archive.ParseMode(*modeStr)
	if err != nil {
		return fail(err)
	}

	sum, err := archive.New(a.cfg, a.q).Run(context.Background(), mode, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opsbus: archive: %v\n", err)
		return exitUsage
	}
	for _, plan := range sum.Planned {
		fmt.Println("plan:", plan)
	}
	fmt.Printf("moved=%d rotated=%d compressed=%d deleted=%d skipped_parked=%d errors=%d\n",
		sum.MovedLines, sum.Rotated, sum.Compressed, sum.Deleted, sum.SkippedParked, len(sum.Errors))
	for _, err := range sum.Errors {
		fmt.Fprintf(os.Stderr, "opsbus: %v\n", err)
	}
	if sum.Failed() {
		return exitFail
	}
	return exitOK
}

func cmdReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	id := fs.String("id", "", "exact event id")
	date := fs.String("date", "", "creation date (YYYY-MM-DD)")
	typGlob := fs.String("type", "", "event type or glob, e.g. worker.*")
	source := fs.String("source", "", "emitting source")
	corrID := fs.String("correlation-id", "", "correlation id")
	priority := fs.String("priority", "", "critical|high|medium|low")
	invoke := fs.Bool("invoke", false, "re-invoke handlers (default is dry run)")
	verboseEv := fs.Bool("verbose", false, "print full event JSON")
	fs.Parse(args)

	if *id == "" && *date == "" && *typGlob == "" && *source == "" && *corrID == "" && *priority == "" {
		fmt.Fprintln(os.Stderr, "opsbus: replay needs at least one filter (-id, -date, -type, -source, -correlation-id, -priority)")
		return exitUsage
	}

	a, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return fail(err)
	}

	filter := replay.Filter{
		ID:            *id,
		Date:          *date,
		TypeGlob:      *typGlob,
		Source:        *source,
		CorrelationID: *corrID,
		Priority:      event.Priority(*priority),
	}
	mode := replay.DryRun
	if *invoke {
		mode = replay.Invoke
	}

	eng := replay.New(a.lay, a.reg)
	failures := 0
	_, err = eng.Select(context.Background(), filter, func(ev *event.Event) bool {
		res := eng.Replay(context.Background(), ev, mode)
		status := "would-invoke"
		if mode == replay.Invoke {
			status = "invoked"
			if res.Err != nil {
				status = "failed"
				failures++
			}
		}
		fmt.Printf("%s %s %s handler=%s %s\n", ev.ID, ev.Type, ev.Timestamp.Format("2006-01-02T15:04:05Z07:00"), res.Handler, status)
		if res.Err != nil {
			fmt.Printf("  error: %v\n", res.Err)
		}
		if *verboseEv {
			if out, err := json.MarshalIndent(ev, "  ", "  "); err == nil {
				fmt.Printf("  %s\n", out)
			}
		}
		return true
	})
	if err != nil {
		if errors.Is(err, replay.ErrNoMatch) {
			fmt.Fprintln(os.Stderr, "nothing to replay")
			return exitFail
		}
		fmt.Fprintf(os.Stderr, "opsbus: replay: %v\n", err)
		return exitUsage
	}
	if failures > 0 {
		return exitFail
	}
	return exitOK
}

func cmdQueue(args []string) int {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	parked := fs.Bool("parked", false, "list parked events instead of pending")
	fs.Parse(args)

	a, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return fail(err)
	}

	if *parked {
		units, err := a.q.ListParked()
		if err != nil {
			return fail(err)
		}
		for _, p := range units {
			fmt.Printf("%s %s priority=%s parked_at=%s reason=%q\n",
				p.Event.ID, p.Event.Type, p.Event.Priority(), p.ParkedAt.Format("2006-01-02T15:04:05Z07:00"), p.Reason)
		}
		return exitOK
	}

	pending, err := a.q.List()
	if err != nil {
		return fail(err)
	}
	for _, ev := range pending {
		fmt.Printf("%s %s priority=%s source=%s\n", ev.ID, ev.Type, ev.Priority(), ev.Source)
	}
	return exitOK
}
