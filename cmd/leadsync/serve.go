package main

import (
	"context"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadsync/command"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/httpapi"
	"github.com/goliatone/go-leadsync/reconcile"
	"github.com/goliatone/go-leadsync/webhooks"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	*rootOptions
	runtimeFlags
	Addr           string
	SweepSchedule  string
	ReplaySchedule string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks and OAuth callbacks and run the periodic sweep",
		Long: `Start the HTTP surface (POST /webhooks/crm, GET /oauth/callback,
GET /healthz), schedule a full reconciliation of every connected tenant and
replay webhook deliveries that are due for retry.

Example:
  leadsync serve --config ./leadsync.yaml
  leadsync serve --addr :9090 --sweep "@every 1h" --no-redis`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	addRuntimeFlags(cmd, &opts.runtimeFlags)
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default http.addr)")
	cmd.Flags().StringVar(&opts.SweepSchedule, "sweep", "", `cron schedule for the full sweep, "off" disables (default reconcile.sweep_schedule)`)
	cmd.Flags().StringVar(&opts.ReplaySchedule, "replay", "", `cron schedule for webhook retry replay, "off" disables (default webhooks.replay_schedule)`)
	return cmd
}

func addRuntimeFlags(cmd *cobra.Command, flags *runtimeFlags) {
	cmd.Flags().BoolVar(&flags.AutoMigrate, "migrate", false, "apply migrations before starting")
	cmd.Flags().DurationVar(&flags.TenantCacheTTL, "tenant-cache-ttl", 30*time.Second, "tenant read cache ttl, 0 disables")
	cmd.Flags().BoolVar(&flags.NoRedis, "no-redis", false, "keep credentials, locks and rate limit state in process memory")
}

func runServe(ctx context.Context, opts *serveOptions) error {
	rt, err := openRuntime(ctx, opts.rootOptions, opts.runtimeFlags)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer rt.system.Webhooks().Flush()

	observer := core.NewObserver(rt.logger, nil, "cli")
	sweepSchedule := firstNonEmpty(opts.SweepSchedule, rt.config.Reconcile.SweepSchedule)
	replaySchedule := firstNonEmpty(opts.ReplaySchedule, rt.config.Webhooks.ReplaySchedule)
	commands := rt.system.Commands()
	timeout := rt.config.Reconcile.SweepTimeout
	batch := rt.config.Webhooks.ReplayBatch

	scheduler, err := startScheduler(
		scheduledRun{name: "sweep", schedule: sweepSchedule, run: func() {
			_, _ = runSweep(ctx, commands.ReconcileAll, timeout, observer)
		}},
		scheduledRun{name: "replay", schedule: replaySchedule, run: func() {
			_, _ = runReplay(ctx, commands.ReplayDeliveries, batch, observer)
		}},
	)
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer func() { <-scheduler.Stop().Done() }()
	}

	addr := firstNonEmpty(opts.Addr, rt.config.HTTP.Addr)
	observer.Info(ctx, "leadsync serving", map[string]any{"addr": addr, "sweep": sweepSchedule, "replay": replaySchedule})
	return httpapi.Serve(ctx, addr, rt.system.Handler())
}

type scheduledRun struct {
	name     string
	schedule string
	run      func()
}

// startScheduler registers every enabled run on one cron. Runs of the same
// entry never overlap: a tick that fires while the previous run is still
// going is skipped. Nil is returned when every schedule is "off".
func startScheduler(runs ...scheduledRun) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	scheduled := 0
	for _, entry := range runs {
		schedule := strings.TrimSpace(entry.schedule)
		if schedule == "" || strings.EqualFold(schedule, "off") || entry.run == nil {
			continue
		}
		if _, err := scheduler.AddFunc(schedule, entry.run); err != nil {
			return nil, core.NewValidationError("leadsync: invalid " + entry.name + " schedule " + schedule + ": " + err.Error())
		}
		scheduled++
	}
	if scheduled == 0 {
		return nil, nil
	}
	scheduler.Start()
	return scheduler, nil
}

// runSweep runs ReconcileAll under timeout. Tenants left when the deadline
// passes are reported with the context error.
func runSweep(ctx context.Context, sweeper gocmd.Commander[command.ReconcileAllMessage], timeout time.Duration, observer core.Observer) (map[string]reconcile.Report, error) {
	if sweeper == nil {
		return nil, core.NewDependencyError("leadsync: reconcile all command is not configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	startedAt := time.Now()
	collector := gocmd.NewResult[map[string]reconcile.Report]()
	err := sweeper.Execute(gocmd.ContextWithResult(ctx, collector), command.ReconcileAllMessage{})
	reports, _ := collector.Load()

	upserted, skipped := 0, 0
	for _, report := range reports {
		upserted += report.Upserted
		skipped += report.Skipped
	}
	observer.Observe(ctx, startedAt, "sweep", err, map[string]any{
		"tenants":  len(reports),
		"upserted": upserted,
		"skipped":  skipped,
	})
	return reports, err
}

func runReplay(ctx context.Context, replayer gocmd.Commander[command.ReplayDeliveriesMessage], limit int, observer core.Observer) (webhooks.ReplayReport, error) {
	if replayer == nil {
		return webhooks.ReplayReport{}, core.NewDependencyError("leadsync: replay deliveries command is not configured")
	}
	startedAt := time.Now()
	collector := gocmd.NewResult[webhooks.ReplayReport]()
	err := replayer.Execute(gocmd.ContextWithResult(ctx, collector), command.ReplayDeliveriesMessage{Limit: limit})
	report, _ := collector.Load()
	if report.Due > 0 || err != nil {
		observer.Observe(ctx, startedAt, "replay", err, map[string]any{
			"due":       report.Due,
			"processed": report.Processed,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		})
	}
	return report, err
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
