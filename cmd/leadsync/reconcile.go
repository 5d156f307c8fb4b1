package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadsync/command"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/reconcile"
	"github.com/spf13/cobra"
)

type reconcileOptions struct {
	*rootOptions
	runtimeFlags
	TenantID string
	JSON     bool
	Metrics  bool
}

func newReconcileCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &reconcileOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one full reconciliation sweep and print the reports",
		Long: `Fetch every opportunity of one tenant, or of every connected tenant,
and merge it into the vault. Failing tenants do not stop the others; the
command exits non-zero when any tenant failed.

Example:
  leadsync reconcile
  leadsync reconcile --tenant 6f1c2d7e-... --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	addRuntimeFlags(cmd, &opts.runtimeFlags)
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "reconcile a single tenant")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print reports as JSON")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print counter totals after the reports")
	return cmd
}

func runReconcile(ctx context.Context, opts *reconcileOptions, out io.Writer) error {
	var recorder *core.MemoryMetricsRecorder
	if opts.Metrics {
		recorder = core.NewMemoryMetricsRecorder()
		opts.runtimeFlags.metrics = recorder
	}
	rt, err := openRuntime(ctx, opts.rootOptions, opts.runtimeFlags)
	if err != nil {
		return err
	}
	defer rt.Close()

	var (
		reports map[string]reconcile.Report
		runErr  error
	)
	if tenantID := strings.TrimSpace(opts.TenantID); tenantID != "" {
		collector := gocmd.NewResult[reconcile.Report]()
		runErr = rt.system.Commands().ReconcileTenant.Execute(
			gocmd.ContextWithResult(ctx, collector),
			command.ReconcileTenantMessage{TenantID: tenantID},
		)
		if report, ok := collector.Load(); ok {
			reports = map[string]reconcile.Report{tenantID: report}
		}
	} else {
		reports, runErr = runSweep(ctx, rt.system.Commands().ReconcileAll, rt.config.Reconcile.SweepTimeout, core.NewObserver(rt.logger, nil, "cli"))
	}

	if err := writeReports(out, reports, opts.JSON); err != nil {
		return err
	}
	if recorder != nil {
		if err := writeCounters(out, recorder.Counters()); err != nil {
			return err
		}
	}
	return runErr
}

// writeCounters prints one line per counter name with its summed value.
func writeCounters(out io.Writer, samples []core.Sample) error {
	totals := map[string]float64{}
	for _, sample := range samples {
		totals[sample.Name] += sample.Value
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nCOUNTER\tTOTAL")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%.0f\n", name, totals[name])
	}
	return w.Flush()
}

func writeReports(out io.Writer, reports map[string]reconcile.Report, asJSON bool) error {
	ids := make([]string, 0, len(reports))
	for id := range reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if asJSON {
		ordered := make([]reconcile.Report, 0, len(ids))
		for _, id := range ids {
			ordered = append(ordered, reports[id])
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(ordered)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tPAGES\tFETCHED\tUPSERTED\tSKIPPED\tDURATION\tERROR")
	for _, id := range ids {
		report := reports[id]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			id, report.Pages, report.Fetched, report.Upserted, report.Skipped, report.Duration, report.Error)
	}
	return w.Flush()
}
