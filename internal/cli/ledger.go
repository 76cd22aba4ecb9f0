package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/logagg/internal/app"
	"github.com/roach88/logagg/internal/event"
)

// LedgerOptions holds flags shared by the offline ledger commands.
type LedgerOptions struct {
	*RootOptions
	Database string
	Topic    string // events only
	Yes      bool   // clear only
}

// LedgerStats is the persisted part of the statistics.
type LedgerStats struct {
	Received         int64 `json:"received"`
	UniqueProcessed  int64 `json:"unique_processed"`
	DuplicateDropped int64 `json:"duplicate_dropped"`
	DeadLettered     int64 `json:"dead_lettered"`
	Topics           int64 `json:"topics"`
}

// LedgerEvent is one processed record.
type LedgerEvent struct {
	Topic       string         `json:"topic"`
	EventID     string         `json:"event_id"`
	Timestamp   string         `json:"timestamp"`
	Source      string         `json:"source"`
	Payload     map[string]any `json:"payload"`
	ProcessedAt string         `json:"processed_at"`
}

// LedgerEvents is the output of the events command.
type LedgerEvents struct {
	Topic  string        `json:"topic,omitempty"`
	Total  int           `json:"total"`
	Events []LedgerEvent `json:"events"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the ledger counters",
		Long: `Print the persisted counters of a ledger without running the server.

Examples:
  logagg stats --db ./dedup_store.db
  logagg stats --db ./dedup_store.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}
	addDBFlag(cmd, opts)
	return cmd
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List processed events, newest first",
		Long: `List the processed records of a ledger, newest processed first.

Examples:
  logagg events --db ./dedup_store.db
  logagg events --db ./dedup_store.db --topic auth --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}
	addDBFlag(cmd, opts)
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "only list this topic")
	return cmd
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record and reset the counters",
		Long: `Delete every processed record and dead letter and zero the counters.
The hot-key cache is flushed too when REDIS_ADDR is set.

Requires --yes.

Example:
  logagg clear --db ./dedup_store.db --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(opts, cmd)
		},
	}
	addDBFlag(cmd, opts)
	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm deletion")
	return cmd
}

func addDBFlag(cmd *cobra.Command, opts *LedgerOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (default DB_PATH, or DATABASE_URL when set)")
}

// withLedgerApp opens the configured ledger and runs fn against an App whose
// consumer is never started. With cache set, a configured but unreachable
// hot-key cache is an error.
func withLedgerApp(opts *LedgerOptions, cmd *cobra.Command, cache bool, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	cfg.Metrics.Enabled = false
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	if !opts.Verbose {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	backend, err := openBackend(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer backend.Close()

	appOpts := []app.Option{app.WithLogger(logger)}
	if cache {
		c, err := connectCache(ctx, cfg, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "hot-key cache unreachable", err)
		}
		if c != nil {
			defer c.Close()
			appOpts = append(appOpts, app.WithCache(c))
		}
	}
	a := app.New(cfg, backend, appOpts...)
	defer a.Close()

	return fn(ctx, a)
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func runStats(opts *LedgerOptions, cmd *cobra.Command) error {
	return withLedgerApp(opts, cmd, false, func(ctx context.Context, a *app.App) error {
		s, err := a.Statistics(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read statistics", err)
		}
		out := LedgerStats{
			Received:         s.Received,
			UniqueProcessed:  s.UniqueProcessed,
			DuplicateDropped: s.DuplicateDropped,
			DeadLettered:     s.DeadLettered,
			Topics:           s.Topics,
		}
		return formatter(opts.RootOptions, cmd).Success(out, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
			fmt.Fprintf(tw, "Received:\t%d\n", out.Received)
			fmt.Fprintf(tw, "Unique processed:\t%d\n", out.UniqueProcessed)
			fmt.Fprintf(tw, "Duplicates dropped:\t%d\n", out.DuplicateDropped)
			fmt.Fprintf(tw, "Dead lettered:\t%d\n", out.DeadLettered)
			fmt.Fprintf(tw, "Topics:\t%d\n", out.Topics)
			tw.Flush()
		})
	})
}

func runEvents(opts *LedgerOptions, cmd *cobra.Command) error {
	return withLedgerApp(opts, cmd, false, func(ctx context.Context, a *app.App) error {
		res, err := a.Query(ctx, opts.Topic)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list events", err)
		}

		out := LedgerEvents{Topic: res.Topic, Total: res.Total, Events: make([]LedgerEvent, 0, len(res.Records))}
		for _, r := range res.Records {
			payload, err := event.UnmarshalPayload([]byte(r.Payload))
			if err != nil {
				return WrapExitError(ExitFailure, "failed to decode stored payload", err)
			}
			out.Events = append(out.Events, LedgerEvent{
				Topic:       r.Topic,
				EventID:     r.EventID,
				Timestamp:   r.Timestamp,
				Source:      r.Source,
				Payload:     payload,
				ProcessedAt: r.ProcessedAt.UTC().Format(time.RFC3339Nano),
			})
		}

		return formatter(opts.RootOptions, cmd).Success(out, func(w io.Writer) {
			if out.Total == 0 {
				fmt.Fprintln(w, "No events found.")
				return
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROCESSED AT\tTOPIC\tEVENT ID\tSOURCE")
			for _, e := range out.Events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ProcessedAt, e.Topic, e.EventID, e.Source)
			}
			tw.Flush()
			fmt.Fprintf(w, "\n%d event(s)\n", out.Total)
		})
	})
}

func runClear(opts *LedgerOptions, cmd *cobra.Command) error {
	if !opts.Yes {
		return NewExitError(ExitCommandError, "refusing to clear the ledger without --yes")
	}
	return withLedgerApp(opts, cmd, true, func(ctx context.Context, a *app.App) error {
		if err := a.ClearAll(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to clear ledger", err)
		}
		return formatter(opts.RootOptions, cmd).Success(map[string]string{"status": "cleared"}, func(w io.Writer) {
			fmt.Fprintln(w, "Ledger cleared.")
		})
	})
}
