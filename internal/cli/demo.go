package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/logagg/internal/api"
	"github.com/roach88/logagg/internal/event"
	"github.com/roach88/logagg/internal/kafkasource"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	URL          string
	KafkaBrokers []string
	KafkaTopic   string
	Unique       int
	Duplicates   int
	BatchSize    int
	Wait         time.Duration
	PollInterval time.Duration

	// IDs overrides the event id generator (tests). Default: UUIDv7.
	IDs event.IDGenerator
}

// DemoStep is the measured effect of one demo step.
type DemoStep struct {
	Name     string `json:"name"`
	Sent     int    `json:"sent"`
	Received int64  `json:"received"`
	Unique   int64  `json:"unique_processed"`
	Dropped  int64  `json:"duplicate_dropped"`
	Expected string `json:"expected"`
	Pass     bool   `json:"pass"`
}

// DemoResult is the output of the demo command.
type DemoResult struct {
	Transport  string            `json:"transport"`
	Steps      []DemoStep        `json:"steps"`
	TopicTotal map[string]int    `json:"topic_totals"`
	Final      api.StatsResponse `json:"final"`
	Consistent bool              `json:"consistent"`
	Sample     []api.EventJSON   `json:"sample,omitempty"`
}

// publisher is where the demo sends events: the HTTP gateway or Kafka.
type publisher interface {
	Publish(ctx context.Context, evs ...event.Event) error
}

type httpPublisher struct{ c *api.Client }

func (h httpPublisher) Publish(ctx context.Context, evs ...event.Event) error {
	_, err := h.c.Publish(ctx, evs...)
	return err
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Drive a running aggregator with a demonstration workload",
		Long: `Send a scripted workload to a running aggregator and check the counters.

Steps: a single event, a batch of ten, one event sent three times, events on
four topics, and a high-volume run with redelivered ids. After each step the
demo waits until the aggregator has processed everything it accepted and
compares the counter deltas with the expected ones.

With --kafka-brokers and --kafka-topic the events are written to Kafka instead
of POSTed; the aggregator must be consuming that topic.

Exit codes:
  0 - every step matched and the counters are consistent
  1 - a step did not match
  2 - the aggregator is not reachable

Examples:
  logagg demo
  logagg demo --url http://localhost:9090 --unique 5000 --duplicates 1000
  logagg demo --kafka-brokers localhost:9092 --kafka-topic events`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8080", "aggregator base URL")
	cmd.Flags().StringSliceVar(&opts.KafkaBrokers, "kafka-brokers", nil, "publish through these Kafka brokers")
	cmd.Flags().StringVar(&opts.KafkaTopic, "kafka-topic", "", "Kafka topic to publish to")
	cmd.Flags().IntVar(&opts.Unique, "unique", 800, "distinct events in the high-volume step")
	cmd.Flags().IntVar(&opts.Duplicates, "duplicates", 200, "redelivered events in the high-volume step")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 100, "events per publish in the high-volume step")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 30*time.Second, "how long to wait for each step to be processed")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 100*time.Millisecond, "stats polling interval")

	return cmd
}

// demoStep is one scripted step: batches are published in order.
type demoStep struct {
	name    string
	batches [][]event.Event
	want    delta
}

type delta struct {
	received, unique, dropped int64
}

func (d delta) String() string {
	return fmt.Sprintf("+%d received, +%d unique, +%d duplicates", d.received, d.unique, d.dropped)
}

func runDemo(opts *DemoOptions, cmd *cobra.Command) error {
	if opts.Unique < 1 || opts.Duplicates < 0 || opts.Duplicates > opts.Unique {
		return NewExitError(ExitCommandError, "--unique must be positive and --duplicates between 0 and --unique")
	}
	if opts.BatchSize < 1 {
		return NewExitError(ExitCommandError, "--batch-size must be positive")
	}
	if (len(opts.KafkaBrokers) > 0) != (opts.KafkaTopic != "") {
		return NewExitError(ExitCommandError, "--kafka-brokers and --kafka-topic must be set together")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	say := func(format string, args ...any) {
		if text {
			fmt.Fprintf(w, format+"\n", args...)
		}
	}

	client := api.NewClient(opts.URL, nil)
	if _, err := client.Health(ctx); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("aggregator not reachable at %s", opts.URL), err)
	}

	result := DemoResult{Transport: "http", TopicTotal: map[string]int{}}
	var pub publisher = httpPublisher{c: client}
	if opts.KafkaTopic != "" {
		kp, err := kafkasource.NewPublisher(opts.KafkaBrokers, opts.KafkaTopic)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create kafka publisher", err)
		}
		defer kp.Close()
		pub = kp
		result.Transport = "kafka:" + opts.KafkaTopic
	}

	ids := opts.IDs
	if ids == nil {
		ids = event.UUIDv7Generator{}
	}
	steps, topics := demoSteps(opts, ids)

	say("Target: %s (%s)", opts.URL, result.Transport)
	for i, step := range steps {
		say("\n[%d/%d] %s", i+1, len(steps), step.name)

		before, err := client.Stats(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read stats", err)
		}
		sent := 0
		for _, batch := range step.batches {
			if err := pub.Publish(ctx, batch...); err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("%s: publish failed", step.name), err)
			}
			sent += len(batch)
		}
		after, err := waitProcessed(ctx, client, before.Received+step.want.received, opts.Wait, opts.PollInterval)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("%s: waiting for processing", step.name), err)
		}

		got := delta{
			received: after.Received - before.Received,
			unique:   after.UniqueProcessed - before.UniqueProcessed,
			dropped:  after.DuplicateDropped - before.DuplicateDropped,
		}
		res := DemoStep{
			Name:     step.name,
			Sent:     sent,
			Received: got.received,
			Unique:   got.unique,
			Dropped:  got.dropped,
			Expected: step.want.String(),
			Pass:     got == step.want,
		}
		result.Steps = append(result.Steps, res)

		mark := "ok"
		if !res.Pass {
			mark = "MISMATCH"
		}
		say("  sent %d: %s (expected %s) %s", sent, got, step.want, mark)
	}

	for _, topic := range topics {
		evs, err := client.Events(ctx, topic)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to query events", err)
		}
		result.TopicTotal[topic] = evs.Total
	}
	all, err := client.Events(ctx, "")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query events", err)
	}
	result.Sample = all.Events[:min(5, len(all.Events))]

	if result.Final, err = client.Stats(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to read stats", err)
	}
	f := result.Final
	result.Consistent = f.Received == f.UniqueProcessed+f.DuplicateDropped+f.DeadLettered

	failed := 0
	for _, s := range result.Steps {
		if !s.Pass {
			failed++
		}
	}

	out := formatter(opts.RootOptions, cmd)
	if err := out.Success(result, func(w io.Writer) { printDemoSummary(w, result, topics) }); err != nil {
		return err
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d demo step(s) did not match", failed))
	}
	if !result.Consistent {
		return NewExitError(ExitFailure, "counters are inconsistent")
	}
	return nil
}

func printDemoSummary(w io.Writer, r DemoResult, topics []string) {
	fmt.Fprintln(w, "\nEvents per topic:")
	for _, t := range topics {
		fmt.Fprintf(w, "  %s: %d\n", t, r.TopicTotal[t])
	}
	if len(r.Sample) > 0 {
		fmt.Fprintln(w, "\nMost recent events:")
		for _, e := range r.Sample {
			fmt.Fprintf(w, "  %s %s (%s, %s)\n", e.Topic, e.EventID, e.Source, e.Timestamp)
		}
	}

	f := r.Final
	fmt.Fprintln(w, "\nFinal statistics:")
	fmt.Fprintf(w, "  Received:           %d\n", f.Received)
	fmt.Fprintf(w, "  Unique processed:   %d\n", f.UniqueProcessed)
	fmt.Fprintf(w, "  Duplicates dropped: %d\n", f.DuplicateDropped)
	fmt.Fprintf(w, "  Dead lettered:      %d\n", f.DeadLettered)
	fmt.Fprintf(w, "  Topics:             %d\n", f.Topics)
	fmt.Fprintf(w, "  Uptime:             %.1fs\n", f.Uptime)

	fmt.Fprintf(w, "\nreceived = unique + duplicates + dead lettered: %d = %d + %d + %d\n",
		f.Received, f.UniqueProcessed, f.DuplicateDropped, f.DeadLettered)
	if r.Consistent {
		fmt.Fprintln(w, "✓ consistent")
	} else {
		fmt.Fprintln(w, "✗ inconsistent")
	}
}

// waitProcessed polls /stats until at least target events were received and
// all of them have an outcome.
func waitProcessed(ctx context.Context, c *api.Client, target int64, wait, poll time.Duration) (api.StatsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		s, err := c.Stats(ctx)
		if err != nil {
			return api.StatsResponse{}, err
		}
		if s.Received >= target && s.Received == s.UniqueProcessed+s.DuplicateDropped+s.DeadLettered {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, fmt.Errorf("timed out after %s with %d of %d received", wait, s.Received, target)
		case <-ticker.C:
		}
	}
}

func demoSteps(opts *DemoOptions, ids event.IDGenerator) ([]demoStep, []string) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	mk := func(topic, id string, payload map[string]any) event.Event {
		if id == "" {
			id = "evt-" + ids.Generate()
		}
		return event.Event{Topic: topic, EventID: id, Timestamp: now, Source: "demo", Payload: payload}
	}

	single := mk("demo.single", "", map[string]any{"user_id": "user123", "action": "login"})

	batch := make([]event.Event, 0, 10)
	for i := 0; i < 10; i++ {
		batch = append(batch, mk("demo.batch", "", map[string]any{"index": i, "data": fmt.Sprintf("batch event %d", i)}))
	}

	dup := mk("demo.duplicate", "", map[string]any{"message": "sent three times"})

	topics := []string{"auth.login", "auth.logout", "payment.created", "payment.completed"}
	var perTopic [][]event.Event
	for _, t := range topics {
		evs := make([]event.Event, 0, 3)
		for i := 0; i < 3; i++ {
			evs = append(evs, mk(t, "", map[string]any{"topic": t, "index": i}))
		}
		perTopic = append(perTopic, evs)
	}

	volume := make([]event.Event, 0, opts.Unique+opts.Duplicates)
	for i := 0; i < opts.Unique; i++ {
		volume = append(volume, mk("demo.highvolume", "", map[string]any{"index": i, "type": "unique"}))
	}
	for i := 0; i < opts.Duplicates; i++ {
		volume = append(volume, mk("demo.highvolume", volume[i].EventID, map[string]any{"index": i, "type": "duplicate"}))
	}

	n := int64(len(topics) * 3)
	steps := []demoStep{
		{name: "single event", batches: [][]event.Event{{single}}, want: delta{1, 1, 0}},
		{name: "batch of ten", batches: [][]event.Event{batch}, want: delta{10, 10, 0}},
		{name: "same event three times", batches: [][]event.Event{{dup}, {dup}, {dup}}, want: delta{3, 1, 2}},
		{name: "four topics", batches: perTopic, want: delta{n, n, 0}},
		{
			name:    fmt.Sprintf("high volume (%d unique, %d redelivered)", opts.Unique, opts.Duplicates),
			batches: chunk(volume, opts.BatchSize),
			want:    delta{int64(len(volume)), int64(opts.Unique), int64(opts.Duplicates)},
		},
	}
	return steps, append([]string{"demo.single", "demo.batch", "demo.duplicate"}, topics...)
}

func chunk(evs []event.Event, size int) [][]event.Event {
	var out [][]event.Event
	for size < len(evs) {
		evs, out = evs[size:], append(out, evs[:size:size])
	}
	return append(out, evs)
}
