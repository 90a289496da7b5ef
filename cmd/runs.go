package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/monitoring"
	"github.com/sells-group/secfin/internal/runlog"
	"github.com/sells-group/secfin/internal/warehouse"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the pipeline run ledger",
	Long:  "Commands for listing and summarizing pipeline runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ledger, closeLedger, err := initRunLog(ctx)
		if err != nil {
			return err
		}
		defer closeLedger()

		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		runs, err := ledger.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ledger, closeLedger, err := initRunLog(ctx)
		if err != nil {
			return err
		}
		defer closeLedger()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := ledger.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

// -- runs check --

var runsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate alert thresholds against recent runs",
	Long: `Collect metrics from the run ledger over monitoring.lookback_window_hours,
print any alerts, and post them to monitoring.webhook_url when it is set.
Exits non-zero when an alert fires.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, err := initBlob()
		if err != nil {
			return err
		}
		ledger, closeLedger, err := initRunLog(ctx)
		if err != nil {
			return err
		}
		defer closeLedger()

		rep, err := newChecker(store, ledger).Check(ctx)
		if err != nil {
			return err
		}
		if len(rep.Alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts.")
			return nil
		}
		for _, a := range rep.Alerts {
			fmt.Printf("[%s] %s: %s\n", a.Severity, a.Type, a.Message)
		}
		return eris.Errorf("%d alert(s) raised", len(rep.Alerts))
	},
}

func newChecker(store blob.Store, ledger runlog.Store) *monitoring.Checker {
	m := cfg.Monitoring
	collector := monitoring.NewCollector(ledger, store, warehouse.DefaultRoot, time.Duration(m.StaleAfterHours)*time.Hour)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(m), m)
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Bool("json", false, "print runs as JSON")

	runsStatsCmd.Flags().Int("limit", 1000, "number of recent runs to summarize")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsCheckCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total        int
	Complete     int
	Failed       int
	Running      int
	Emitted      int64
	Skipped      int64
	FactsDropped int64
	AvgDurSecs   float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []runlog.Entry) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch r.Status {
		case runlog.StatusComplete:
			s.Complete++
			if r.CompletedAt != nil {
				totalDur += r.CompletedAt.Sub(r.StartedAt)
				durCount++
			}
		case runlog.StatusFailed:
			s.Failed++
		default:
			s.Running++
		}
		s.Emitted += r.Counts.Emitted
		s.Skipped += r.Counts.Skipped
		s.FactsDropped += r.Counts.FactsDropped
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPARTITION\tMODE\tSTATUS\tEMITTED\tSKIPPED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---------\t----\t------\t-------\t-------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		status := string(r.Status)
		if r.Error != "" {
			msg := r.Error
			if len(msg) > 40 {
				msg = msg[:37] + "..."
			}
			status += " (" + msg + ")"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Partition,
			r.Mode,
			status,
			r.Counts.Emitted,
			r.Counts.Skipped,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Documents emitted:\t%d\n", s.Emitted)
	_, _ = fmt.Fprintf(w, "Submissions skipped:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Facts dropped:\t%d\n", s.FactsDropped)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
