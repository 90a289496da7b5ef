package orchestrate

import (
	"fmt"
	"slices"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/pipeline"
	"github.com/sells-group/secfin/internal/scrape"
	"github.com/sells-group/secfin/internal/warehouse"
)

// IngestParams selects the steps IngestWorkflow runs for one partition.
type IngestParams struct {
	Year    int      `json:"year"`
	Quarter int      `json:"quarter"`
	Modes   []string `json:"modes"`
	// Scrape downloads the raw archive before converting.
	Scrape bool `json:"scrape"`
	// Load copies the newest JSON partition into the warehouse afterwards.
	// It requires the json mode.
	Load     bool   `json:"load"`
	LoadRoot string `json:"load_root,omitempty"`
	// Force reruns scrape and the parquet mode even when columnar output
	// for the partition already exists.
	Force bool `json:"force,omitempty"`
}

// IngestResult collects each step's output.
type IngestResult struct {
	Downloaded []scrape.Downloaded `json:"downloaded,omitempty"`
	Runs       []pipeline.Result   `json:"runs"`
	Warehouse  *warehouse.Result   `json:"warehouse,omitempty"`
	// SkippedExisting is set when columnar output was already present and
	// scrape and the parquet mode were not run.
	SkippedExisting bool `json:"skipped_existing,omitempty"`
}

// WorkflowID is the ID used for a partition's ingest run. Reusing it keeps a
// partition from being ingested twice at once.
func WorkflowID(year, quarter int) string {
	return fmt.Sprintf("secfin-ingest-%dQ%d", year, quarter)
}

func (p IngestParams) validate() ([]pipeline.Mode, error) {
	if _, err := fsds.NewPartition(p.Year, p.Quarter); err != nil {
		return nil, err
	}
	if len(p.Modes) == 0 {
		return nil, fmt.Errorf("orchestrate: at least one mode is required")
	}
	modes := make([]pipeline.Mode, 0, len(p.Modes))
	hasJSON := false
	for _, s := range p.Modes {
		m, err := pipeline.ParseMode(s)
		if err != nil {
			return nil, err
		}
		hasJSON = hasJSON || m == pipeline.ModeJSON
		modes = append(modes, m)
	}
	if p.Load && !hasJSON {
		return nil, fmt.Errorf("orchestrate: load requires the json mode")
	}
	return modes, nil
}

var (
	existsOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
	scrapeOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Minute,
			BackoffCoefficient: 2,
			MaximumInterval:    15 * time.Minute,
			MaximumAttempts:    5,
		},
	}
	convertOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    10 * time.Minute,
			MaximumAttempts:    3,
		},
	}
	loadOptions = workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    5,
		},
	}
)

// IngestWorkflow runs Scrape, then the requested conversion modes in
// parallel, then LoadWarehouse. A failed step fails the workflow after its
// retry policy is exhausted. Unless Force is set, a partition whose columnar
// output already exists skips Scrape and the parquet mode.
func IngestWorkflow(ctx workflow.Context, params IngestParams) (*IngestResult, error) {
	logger := workflow.GetLogger(ctx)

	modes, err := params.validate()
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidParams", err)
	}

	var a *Activities
	in := PartitionInput{Year: params.Year, Quarter: params.Quarter}
	res := &IngestResult{}

	if !params.Force && slices.Contains(modes, pipeline.ModeParquet) {
		ectx := workflow.WithActivityOptions(ctx, existsOptions)
		var present bool
		if err := workflow.ExecuteActivity(ectx, a.Exists, in).Get(ectx, &present); err != nil {
			return res, err
		}
		if present {
			logger.Info("columnar output present, skipping scrape and extract")
			res.SkippedExisting = true
			params.Scrape = false
			modes = slices.DeleteFunc(modes, func(m pipeline.Mode) bool { return m == pipeline.ModeParquet })
		}
	}

	if params.Scrape {
		sctx := workflow.WithActivityOptions(ctx, scrapeOptions)
		if err := workflow.ExecuteActivity(sctx, a.Scrape, in).Get(sctx, &res.Downloaded); err != nil {
			return res, err
		}
		logger.Info("archive downloaded", "archives", len(res.Downloaded))
	}

	cctx := workflow.WithActivityOptions(ctx, convertOptions)
	futures := make([]workflow.Future, 0, len(modes))
	for _, m := range modes {
		switch m {
		case pipeline.ModeParquet:
			futures = append(futures, workflow.ExecuteActivity(cctx, a.ExtractAndConvert, in))
		case pipeline.ModeJSON:
			futures = append(futures, workflow.ExecuteActivity(cctx, a.ExtractAndConvertToJSON, in))
		}
	}
	for i, f := range futures {
		var run pipeline.Result
		if err := f.Get(cctx, &run); err != nil {
			return res, err
		}
		logger.Info("conversion complete", "mode", string(modes[i]), "emitted", run.Counts.Emitted, "tables", run.Counts.Tables)
		res.Runs = append(res.Runs, run)
	}

	if params.Load {
		lctx := workflow.WithActivityOptions(ctx, loadOptions)
		if err := workflow.ExecuteActivity(lctx, a.LoadWarehouse, params.LoadRoot).Get(lctx, &res.Warehouse); err != nil {
			return res, err
		}
	}
	return res, nil
}
