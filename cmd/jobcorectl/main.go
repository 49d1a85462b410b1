package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cordum/jobcore/core/infra/bus"
	"github.com/cordum/jobcore/core/infra/config"
	"github.com/cordum/jobcore/core/infra/events"
	"github.com/cordum/jobcore/core/model"
	"github.com/cordum/jobcore/core/scheduler"
	"github.com/cordum/jobcore/core/workflow"
)

const (
	defaultAddr     = "http://localhost:9090"
	defaultRedisURL = "redis://localhost:6379"
	defaultNatsURL  = "nats://localhost:4222"
)

var errWorkflowFailed = errors.New("workflow failed")

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := dispatch(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fail(err.Error())
	}
}

func dispatch(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "validate":
		return runValidateCmd(args, out)
	case "plan":
		return runPlanCmd(args, out)
	case "run":
		return runRunCmd(ctx, args, out)
	case "cron":
		return runCronCmd(args, out)
	case "schedule":
		return runScheduleCmd(args, out)
	case "events":
		return runEventsCmd(ctx, args, out)
	case "status":
		return runStatusCmd(ctx, args, out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	}
	usage(os.Stderr)
	return fmt.Errorf("unknown command %q", cmd)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func loadWorkflow(fs *flag.FlagSet) (*workflow.Definition, *model.Workflow, error) {
	if fs.NArg() < 1 {
		return nil, nil, errors.New("workflow file required")
	}
	def, err := workflow.LoadDefinition(fs.Arg(0))
	if err != nil {
		return nil, nil, err
	}
	wf, err := def.Build()
	if err != nil {
		return nil, nil, err
	}
	return def, wf, nil
}

func runValidateCmd(args []string, out io.Writer) error {
	fs := newFlagSet("validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	def, wf, err := loadWorkflow(fs)
	if err != nil {
		return err
	}
	levels, err := workflow.NewEngine().Plan(wf)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok (%d jobs, %d levels)\n", def.Name, len(wf.Jobs), len(levels))
	return nil
}

func runPlanCmd(args []string, out io.Writer) error {
	fs := newFlagSet("plan")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, wf, err := loadWorkflow(fs)
	if err != nil {
		return err
	}
	levels, err := workflow.NewEngine().Plan(wf)
	if err != nil {
		return err
	}
	return printJSON(out, levels)
}

func runRunCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("run")
	maxParallel := fs.Int("max-parallel", 0, "max concurrent jobs per level (0 = unbounded)")
	vars := fs.String("vars", envOr("JOBCORE_PYTHON_VARS", ""), "expression variables k=v,k2=v2")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, wf, err := loadWorkflow(fs)
	if err != nil {
		return err
	}
	scope := map[string]any{}
	for _, pair := range strings.Split(*vars, ",") {
		if k, v, ok := strings.Cut(pair, "="); ok && strings.TrimSpace(k) != "" {
			scope[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	eng := workflow.NewEngine(
		workflow.WithExecutor(workflow.NewDefaultExecutor(scope)),
		workflow.WithMaxParallel(*maxParallel),
	)
	res, err := eng.RunWorkflow(ctx, wf)
	if err != nil {
		return err
	}
	if err := printJSON(out, res); err != nil {
		return err
	}
	if res.Status == model.WorkflowStatusFailed {
		return fmt.Errorf("%w: %s", errWorkflowFailed, strings.Join(res.Failed, ", "))
	}
	return nil
}

func runCronCmd(args []string, out io.Writer) error {
	if len(args) < 1 || args[0] != "next" {
		return errors.New("usage: jobcorectl cron next [--count n] [--from RFC3339] <expr>")
	}
	fs := newFlagSet("cron next")
	count := fs.Int("count", 5, "number of run times to print")
	from := fs.String("from", "", "start time (RFC3339, default now)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("cron expression required")
	}
	expr, err := scheduler.ParseCron(strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}
	t := time.Now()
	if *from != "" {
		if t, err = time.Parse(time.RFC3339, *from); err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
	}
	for i := 0; i < *count; i++ {
		next, ok := expr.Next(t)
		if !ok {
			if i == 0 {
				return fmt.Errorf("%s never matches", expr)
			}
			break
		}
		fmt.Fprintln(out, next.Format(time.RFC3339))
		t = next
	}
	return nil
}

type scheduleLine struct {
	Name     string     `json:"name"`
	Workflow string     `json:"workflow"`
	Cron     string     `json:"cron"`
	Enabled  bool       `json:"enabled"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

func runScheduleCmd(args []string, out io.Writer) error {
	if len(args) < 1 || args[0] != "check" {
		return errors.New("usage: jobcorectl schedule check <schedule.yaml>")
	}
	fs := newFlagSet("schedule check")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	path := config.Load().SchedulePath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	sched, err := config.LoadSchedule(path)
	if err != nil {
		return err
	}
	now := time.Now()
	lines := make([]scheduleLine, 0, len(sched.Jobs))
	for _, entry := range sched.Jobs {
		def, err := workflow.LoadDefinition(entry.Workflow)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name, err)
		}
		freq := model.Frequency(entry.Frequency)
		if freq == "" {
			freq = model.FrequencyCron
		}
		raw, err := scheduler.ResolveCron(entry.Cron, freq)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name, err)
		}
		expr, err := scheduler.ParseCron(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name, err)
		}
		line := scheduleLine{Name: entry.Name, Workflow: def.Name, Cron: expr.String(), Enabled: entry.IsEnabled()}
		if next, ok := expr.Next(now); ok && entry.IsEnabled() {
			line.NextRun = &next
		}
		lines = append(lines, line)
	}
	return printJSON(out, lines)
}

func runEventsCmd(ctx context.Context, args []string, out io.Writer) error {
	if len(args) > 0 && args[0] == "tail" {
		return runEventsTailCmd(ctx, args[1:], out)
	}
	if len(args) < 1 || args[0] != "recent" {
		return errors.New("usage: jobcorectl events recent|tail [flags]")
	}
	fs := newFlagSet("events recent")
	source := fs.String("source", string(events.SourceWorkflow), "event source")
	limit := fs.Int64("limit", 20, "max events")
	redisURL := fs.String("redis", envOr("REDIS_URL", defaultRedisURL), "redis url")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	sink, err := events.NewRedisSink(*redisURL, *limit)
	if err != nil {
		return err
	}
	defer sink.Close()
	evs, err := sink.Recent(ctx, events.Source(*source), *limit)
	if err != nil {
		return err
	}
	return printJSON(out, evs)
}

type subscriber interface {
	Subscribe(subject string, newMsg func() proto.Message, handler func(proto.Message)) error
}

func runEventsTailCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("events tail")
	source := fs.String("source", "", "event source (default all)")
	count := fs.Int("count", 0, "stop after n events (0 = until interrupted)")
	natsURL := fs.String("nats", envOr("NATS_URL", defaultNatsURL), "nats url")
	if err := fs.Parse(args); err != nil {
		return err
	}
	nb, err := bus.NewNatsBus(*natsURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nb.Close()
	return tailEvents(ctx, nb, tailSubject(*source), *count, out)
}

func tailSubject(source string) string {
	if source = strings.TrimSpace(source); source == "" {
		return "jobcore.events.>"
	}
	return "jobcore.events." + source + ".>"
}

func tailEvents(ctx context.Context, sub subscriber, subject string, count int, out io.Writer) error {
	received := make(chan events.Event, 64)
	err := sub.Subscribe(subject, func() proto.Message { return &structpb.Struct{} }, func(msg proto.Message) {
		st, ok := msg.(*structpb.Struct)
		if !ok {
			return
		}
		ev, err := events.FromStruct(st)
		if err != nil {
			return
		}
		select {
		case received <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for seen := 0; count <= 0 || seen < count; seen++ {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-received:
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func runStatusCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("status")
	addr := fs.String("addr", envOr("JOBCORE_ADDR", defaultAddr), "daemon base url")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(*addr, "/")+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status: %s", resp.Status)
	}
	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	return printJSON(out, body)
}

func printJSON(out io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func usage(out io.Writer) {
	fmt.Fprint(out, `jobcorectl - jobcore workflow and schedule CLI

Usage:
  jobcorectl validate <workflow.yaml>
  jobcorectl plan <workflow.yaml>
  jobcorectl run [--max-parallel n] [--vars k=v,...] <workflow.yaml>
  jobcorectl cron next [--count n] [--from RFC3339] <expr>
  jobcorectl schedule check [schedule.yaml]
  jobcorectl events recent [--source workflow|etl|scheduler] [--limit n] [--redis url]
  jobcorectl events tail [--source workflow|etl|scheduler] [--count n] [--nats url]
  jobcorectl status [--addr http://localhost:9090]
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
