package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"meterseed/internal/service"
)

// Generate seeds one device over a historical window and prints the run report.
func (a *App) Generate(ctx context.Context, opts GenerateOptions) error {
	req := service.Request{
		Serial:        opts.Serial,
		Channels:      opts.Channels,
		Start:         opts.Start.UTC(),
		Stop:          opts.Stop.UTC(),
		Resolution:    opts.Resolution,
		EnergyUse:     opts.EnergyUse,
		DryRun:        opts.DryRun,
		SkipReconcile: opts.SkipReconcile,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	seeder, cleanup, err := a.newSeeder(ctx, opts.DryRun, opts.BatchSize)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := seeder.Generate(ctx, req)
	if err != nil {
		if report.Points > 0 {
			a.Logger.Warn().Int64("points", report.Points).Str("run_id", report.RunID).
				Msg("points already flushed before the failure are kept")
		}
		return err
	}

	printReport(os.Stdout, report)
	return nil
}

func printReport(w io.Writer, report service.Report) {
	fmt.Fprintln(w, report.Message())
	fmt.Fprintf(w, "run: %s\n", report.RunID)
	fmt.Fprintf(w, "tier: %d -> %d (%d escalations)\n", report.StartTier, report.Final.Tier.Level, len(report.Escalations))
	fmt.Fprintf(w, "energy: monthly %.3f kWh, daily %.3f kWh\n", report.Final.MonthlyKWh, report.Final.DailyKWh)
	for _, esc := range report.Escalations {
		fmt.Fprintf(w, "  %s tier %d -> %d at %.3f kWh (threshold %.3f)\n",
			esc.Time.UTC().Format("2006-01-02T15:04:05Z"), esc.From.Level, esc.To.Level, esc.MonthlyKWh, esc.Threshold)
	}
	if report.Reconciled != nil {
		fmt.Fprintf(w, "rules: %d dropped, %d installed\n", len(report.Reconciled.Dropped), len(report.Reconciled.Installed))
	}
	if !report.Committed {
		fmt.Fprintln(w, "billing state not committed (dry run)")
	}
}
