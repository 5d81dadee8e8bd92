// Command quotactl inspeciona e administra os buckets de rate limit
// compartilhados, usando a mesma configuração (env/TOML) dos workers.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"quota-coordinator/middleware/ratelimit"
	"quota-coordinator/middleware/ratelimit/config"
	"quota-coordinator/middleware/ratelimit/domain"
	"quota-coordinator/middleware/ratelimit/infra"

	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app     = kingpin.New("quotactl", "Inspect and administer the shared outbound rate limit buckets.")
	verbose = app.Flag("verbose", "Verbose output").Short('v').Default("false").Bool()
	timeout = app.Flag("timeout", "Timeout for store operations.").Default("5s").Duration()

	// status
	status         = app.Command("status", "Show usage and refill ETA for every service, or only the given ones.")
	statusServices = status.Arg("service", "Services to show.").Strings()

	// reset
	reset         = app.Command("reset", "Fill the buckets of the given services (or all). Requires RATE_LIMIT_ALLOW_RESET=true.")
	resetServices = reset.Arg("service", "Services to reset.").Strings()

	// acquire
	acquire        = app.Command("acquire", "Take tokens from a service bucket, as a worker would.")
	acquireService = acquire.Arg("service", "Service to take tokens from.").Required().String()
	acquireCost    = acquire.Flag("cost", "Tokens to take.").Short('n').Default("1").Float64()
	acquireWait    = acquire.Flag("wait", "Back off and retry according to the configured policy.").Short('w').Default("false").Bool()

	// stats
	stats        = app.Command("stats", "Show decision counters recorded in Redis (RATE_LIMIT_STATS=redis).")
	statsService = stats.Arg("service", "Only show counters for this service.").String()
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "quotactl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cmd := kingpin.MustParse(app.Parse(args))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	st, err := ratelimit.Open(ctx, cfg, ratelimit.WithOpenLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()

	switch cmd {
	case status.FullCommand():
		sts, err := st.Status.Status(ctx, toServices(*statusServices)...)
		if err != nil {
			return err
		}
		return printStatus(out, sts)
	case reset.FullCommand():
		svcs := toServices(*resetServices)
		if err := st.Admin.Reset(ctx, svcs...); err != nil {
			return err
		}
		sts, err := st.Status.Status(ctx, svcs...)
		if err != nil {
			return err
		}
		return printStatus(out, sts)
	case acquire.FullCommand():
		return doAcquire(ctx, out, st)
	case stats.FullCommand():
		return doStats(ctx, out, st)
	default:
		kingpin.FatalUsage("Unknown command; should never happen.")
	}
	return nil
}

func doAcquire(ctx context.Context, out io.Writer, st *ratelimit.Stack) error {
	svc := domain.Service(*acquireService)

	var (
		p   domain.Permit
		err error
	)
	if *acquireWait {
		p, err = st.Retrier.TryAcquireNWithRetry(ctx, svc, *acquireCost)
	} else {
		p, err = st.Limiter.AcquireN(ctx, svc, *acquireCost)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "permit %s: service=%s cost=%g remaining=%.2f degraded=%v\n", p.ID, p.Service, p.Cost, p.Remaining, p.Degraded)
	return nil
}

func doStats(ctx context.Context, out io.Writer, st *ratelimit.Stack) error {
	rs, ok := st.Stats.(*infra.RedisStatsStore)
	if !ok {
		return fmt.Errorf("stats are only readable with RATE_LIMIT_STATS=redis (current: %s)", st.Config.Stats.Backend)
	}

	svcs := []domain.Service{""}
	if *statsService != "" {
		svcs = []domain.Service{domain.Service(*statsService)}
	} else {
		svcs = append(svcs, st.Config.ServiceNames()...)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tADMITTED\tREJECTED\tSTORE FAULTS")
	for _, svc := range svcs {
		c, err := rs.Counters(ctx, svc)
		if err != nil {
			return err
		}
		name := string(svc)
		if name == "" {
			name = "(total)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", name, c.Admitted, c.Rejected, c.StoreFaults)
	}
	return tw.Flush()
}

func printStatus(out io.Writer, sts []domain.Status) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tAVAILABLE\tCAPACITY\tUSAGE\tPERIOD\tREFILL IN")
	for _, s := range sts {
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%.1f%%\t%s\t%s\n",
			s.Service, s.Available, s.Capacity, s.UsagePct*100, formatPeriod(s.Period), formatRefill(s.RefillIn))
	}
	return tw.Flush()
}

func formatPeriod(d time.Duration) string {
	if d <= 0 {
		return "infinite"
	}
	return d.String()
}

func formatRefill(d time.Duration) string {
	switch {
	case d == domain.NoRefill:
		return "never"
	case d <= 0:
		return "-"
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

func toServices(names []string) []domain.Service {
	out := make([]domain.Service, 0, len(names))
	for _, n := range names {
		out = append(out, domain.Service(n))
	}
	return out
}
