// Package monitoring watches the run ledger and raises alerts when runs fail,
// hang, or drop too many facts.
package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/secfin/internal/partition"
	"github.com/sells-group/secfin/internal/runlog"
)

// listLimit bounds how many recent ledger entries one collection reads.
const listLimit = 1000

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Runs still marked running after the stale threshold.
	RunsStuck []string `json:"runs_stuck,omitempty"`

	// Submission and fact totals across the window's runs.
	SubmissionsEmitted int64   `json:"submissions_emitted"`
	SubmissionsFailed  int64   `json:"submissions_failed"`
	Facts              int64   `json:"facts"`
	FactsDropped       int64   `json:"facts_dropped"`
	FactDropRate       float64 `json:"fact_drop_rate"`

	// Newest year/quarter under the JSON root, empty if none or not checked.
	LatestPartition string `json:"latest_partition,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run ledger and the output store.
type Collector struct {
	ledger     runlog.Store
	lister     partition.Lister
	root       string
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a metrics collector. A nil lister skips the latest
// partition lookup. Runs still running after staleAfter count as stuck.
func NewCollector(ledger runlog.Store, lister partition.Lister, root string, staleAfter time.Duration) *Collector {
	return &Collector{
		ledger:     ledger,
		lister:     lister,
		root:       root,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.ledger.List(ctx, listLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case runlog.StatusComplete:
			snap.RunsComplete++
		case runlog.StatusFailed:
			snap.RunsFailed++
		case runlog.StatusRunning:
			snap.RunsRunning++
			if c.staleAfter > 0 && now.Sub(r.StartedAt) > c.staleAfter {
				snap.RunsStuck = append(snap.RunsStuck, r.ID)
			}
		}
		snap.SubmissionsEmitted += r.Counts.Emitted
		snap.SubmissionsFailed += r.Counts.Failed
		snap.Facts += r.Counts.Facts
		snap.FactsDropped += r.Counts.FactsDropped
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.Facts > 0 {
		snap.FactDropRate = float64(snap.FactsDropped) / float64(snap.Facts)
	}

	if c.lister != nil {
		latest, err := partition.Resolve(ctx, c.lister, c.root)
		switch {
		case errors.Is(err, partition.ErrNoPartitionFound):
		case err != nil:
			return nil, eris.Wrap(err, "monitoring: resolve latest partition")
		default:
			snap.LatestPartition = latest.Year + "/" + latest.Quarter
		}
	}

	return snap, nil
}
