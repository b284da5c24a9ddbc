package pulsectl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/pulse/internal/domain/model"
)

// EnvAddr overrides DefaultAddr.
const EnvAddr = "PULSE_URL"

type command struct {
	summary string
	flags   func(fs *pflag.FlagSet) func(ctx context.Context, c *Client, out io.Writer) error
}

var commands = map[string]command{
	"ingest":   {summary: "run ingestion for a scope", flags: ingestFlags},
	"generate": {summary: "generate the next recommendation", flags: generateFlags},
	"feedback": {summary: "record the outcome of a recommendation", flags: feedbackFlags},
	"stats":    {summary: "show feedback aggregates per weight configuration", flags: statsFlags},
	"journey":  {summary: "show the active journey of a scope", flags: journeyFlags},
}

// Run executes one pulsectl invocation. args excludes the program name and
// getenv resolves EnvAddr.
func Run(ctx context.Context, args []string, out io.Writer, getenv func(string) string) error {
	global := pflag.NewFlagSet("pulsectl", pflag.ContinueOnError)
	global.SetOutput(out)
	global.SetInterspersed(false)
	addr := global.String("addr", "", "pulse API base URL (default $"+EnvAddr+" or "+DefaultAddr+")")
	timeout := global.Duration("timeout", 2*time.Minute, "request timeout")
	global.Usage = func() { printUsage(out, global) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	rest := global.Args()
	if len(rest) == 0 {
		printUsage(out, global)
		return fmt.Errorf("%w: missing command", ErrUsage)
	}
	name := rest[0]
	if name == "help" {
		printUsage(out, global)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, name)
	}

	fs := pflag.NewFlagSet("pulsectl "+name, pflag.ContinueOnError)
	fs.SetOutput(out)
	run := cmd.flags(fs)
	if err := fs.Parse(rest[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}

	base := *addr
	if base == "" && getenv != nil {
		base = getenv(EnvAddr)
	}
	return run(ctx, NewClient(base, WithTimeout(*timeout)), out)
}

func printUsage(out io.Writer, global *pflag.FlagSet) {
	fmt.Fprintln(out, "usage: pulsectl [global flags] <command> [flags]")
	fmt.Fprintln(out, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(out, "\nglobal flags:")
	fmt.Fprint(out, global.FlagUsages())
}

func requireScope(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return fmt.Errorf("%w: --scope is required", ErrUsage)
	}
	return nil
}

func parseTime(flag, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --%s: %w", ErrUsage, flag, err)
	}
	return t, nil
}

func ingestFlags(fs *pflag.FlagSet) func(context.Context, *Client, io.Writer) error {
	scope := fs.StringP("scope", "s", "", "scope to ingest")
	since := fs.String("since", "", "window start (RFC3339); defaults to the stored cursor")
	until := fs.String("until", "", "window end (RFC3339); defaults to now")
	dryRun := fs.Bool("dry-run", false, "normalize without storing events or moving cursors")
	async := fs.Bool("async", false, "queue a cursor-driven run and return immediately")

	return func(ctx context.Context, c *Client, out io.Writer) error {
		if err := requireScope(*scope); err != nil {
			return err
		}
		if *async {
			if *dryRun || *since != "" || *until != "" {
				return fmt.Errorf("%w: --async cannot be combined with --since, --until or --dry-run", ErrUsage)
			}
			if err := c.Queue(ctx, *scope); err != nil {
				return err
			}
			return printJSON(out, map[string]string{"status": "queued", "scope": *scope})
		}
		p := IngestParams{Scope: *scope, DryRun: *dryRun}
		var err error
		if p.Since, err = parseTime("since", *since); err != nil {
			return err
		}
		if p.Until, err = parseTime("until", *until); err != nil {
			return err
		}
		report, err := c.Ingest(ctx, p)
		if err != nil {
			return err
		}
		return printJSON(out, report)
	}
}

func generateFlags(fs *pflag.FlagSet) func(context.Context, *Client, io.Writer) error {
	scope := fs.StringP("scope", "s", "", "scope to recommend for")

	return func(ctx context.Context, c *Client, out io.Writer) error {
		if err := requireScope(*scope); err != nil {
			return err
		}
		resp, err := c.Generate(ctx, *scope)
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	}
}

func feedbackFlags(fs *pflag.FlagSet) func(context.Context, *Client, io.Writer) error {
	id := fs.String("id", "", "recommendation id")
	action := fs.String("action", "", "action actually taken")
	outcome := fs.String("outcome", "", "completed, progress, blocked, deferred or skipped")
	score := fs.Int("score", 0, "rating: -1, 0 or 1")
	minutes := fs.Int("minutes", 0, "minutes until the action was completed")

	return func(ctx context.Context, c *Client, out io.Writer) error {
		if strings.TrimSpace(*id) == "" {
			return fmt.Errorf("%w: --id is required", ErrUsage)
		}
		var fb model.Feedback
		if fs.Changed("action") {
			fb.ActionTaken = action
		}
		if fs.Changed("outcome") {
			fb.Outcome = outcome
		}
		if fs.Changed("score") {
			fb.FeedbackScore = score
		}
		if fs.Changed("minutes") {
			fb.TimeToComplete = minutes
		}
		if err := c.Feedback(ctx, *id, fb); err != nil {
			return err
		}
		return printJSON(out, map[string]string{"status": "recorded", "recommendation_id": *id})
	}
}

func statsFlags(fs *pflag.FlagSet) func(context.Context, *Client, io.Writer) error {
	window := fs.Duration("window", 7*24*time.Hour, "aggregation window")

	return func(ctx context.Context, c *Client, out io.Writer) error {
		if *window <= 0 {
			return fmt.Errorf("%w: --window must be positive", ErrUsage)
		}
		stats, err := c.Stats(ctx, *window)
		if err != nil {
			return err
		}
		if stats == nil {
			stats = []model.WeightStats{}
		}
		return printJSON(out, stats)
	}
}

func journeyFlags(fs *pflag.FlagSet) func(context.Context, *Client, io.Writer) error {
	scope := fs.StringP("scope", "s", "", "scope to show")

	return func(ctx context.Context, c *Client, out io.Writer) error {
		if err := requireScope(*scope); err != nil {
			return err
		}
		j, err := c.Journey(ctx, *scope)
		if err != nil {
			return err
		}
		return printJSON(out, j)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
