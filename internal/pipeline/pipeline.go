// Package pipeline runs one quarterly archive through the extract and
// convert stages: columnar output per member, or one JSON document per
// submission.
package pipeline

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/emit"
	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/fsds/classify"
	"github.com/sells-group/secfin/internal/runlog"
	"github.com/sells-group/secfin/internal/ticker"
)

// Mode selects an output target.
type Mode string

const (
	ModeParquet Mode = "parquet"
	ModeJSON    Mode = "json"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeParquet, ModeJSON:
		return Mode(s), nil
	}
	return "", eris.Errorf("pipeline: unknown mode %q (valid: parquet, json)", s)
}

// TickerSource loads the symbol table. *ticker.Loader satisfies it.
type TickerSource interface {
	Load(ctx context.Context, source string) (*ticker.Table, error)
}

// Options configures a Runner.
type Options struct {
	TempDir      string
	BatchRows    int
	TickerSource string
}

// Runner executes pipeline invocations against a blob store and records
// each one in the run ledger.
type Runner struct {
	store   blob.Store
	tickers TickerSource
	ledger  runlog.Store
	opts    Options
	parquet *emit.ParquetEmitter
	json    *emit.JSONEmitter
}

// New creates a Runner. A nil ledger records nothing.
func New(store blob.Store, tickers TickerSource, ledger runlog.Store, opts Options) *Runner {
	if ledger == nil {
		ledger = runlog.Nop{}
	}
	return &Runner{
		store:   store,
		tickers: tickers,
		ledger:  ledger,
		opts:    opts,
		parquet: emit.NewParquetEmitter(store, opts.TempDir, opts.BatchRows),
		json:    emit.NewJSONEmitter(store),
	}
}

// Result summarizes one invocation.
type Result struct {
	RunID     string         `json:"run_id,omitempty"`
	Partition fsds.Partition `json:"partition"`
	Mode      Mode           `json:"mode"`
	Counts    runlog.Counts  `json:"counts"`
	Facts     classify.Stats `json:"facts"`
	Duration  time.Duration  `json:"duration"`
}

// ExtractAndConvert writes every archive member for (year, quarter) as a
// parquet table under extracted/{year}Q{quarter}/. Rerunning overwrites the
// previous output.
func (r *Runner) ExtractAndConvert(ctx context.Context, year, quarter int) (*Result, error) {
	p, err := fsds.NewPartition(year, quarter)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, p, ModeParquet)
}

// ExtractAndConvertToJSON writes one financial document per submission for
// (year, quarter) under JSON_Conversion/{year}/q{quarter}/. Rerunning
// overwrites the previous output.
func (r *Runner) ExtractAndConvertToJSON(ctx context.Context, year, quarter int) (*Result, error) {
	p, err := fsds.NewPartition(year, quarter)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, p, ModeJSON)
}

// Run executes one mode for p.
func (r *Runner) Run(ctx context.Context, p fsds.Partition, mode Mode) (*Result, error) {
	switch mode {
	case ModeParquet:
		return r.track(ctx, p, mode, r.runColumnar)
	case ModeJSON:
		return r.track(ctx, p, mode, r.runJSON)
	}
	return nil, eris.Errorf("pipeline: unknown mode %q", mode)
}

// Exists reports whether columnar output is present for (year, quarter).
func (r *Runner) Exists(ctx context.Context, year, quarter int) (bool, error) {
	p, err := fsds.NewPartition(year, quarter)
	if err != nil {
		return false, err
	}
	keys, err := r.store.List(ctx, p.ColumnarPrefix())
	if err != nil {
		return false, eris.Wrapf(err, "pipeline: list %s", p.ColumnarPrefix())
	}
	return len(keys) > 0, nil
}

func (r *Runner) track(ctx context.Context, p fsds.Partition, mode Mode, fn func(context.Context, fsds.Partition, *Result) error) (*Result, error) {
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("partition", p.SourceID()),
		zap.String("mode", string(mode)),
	)

	res := &Result{Partition: p, Mode: mode}
	id, err := r.ledger.Start(ctx, p.SourceID(), string(mode))
	if err != nil {
		log.Warn("pipeline: failed to record run start", zap.Error(err))
	}
	res.RunID = id

	log.Info("pipeline: run starting", zap.String("run_id", id))
	start := time.Now()
	fnErr := fn(ctx, p, res)
	res.Duration = time.Since(start)
	res.Counts.FactsDropped = int64(res.Facts.Dropped())

	// The ledger update must land even when ctx was cancelled.
	ledgerCtx := context.WithoutCancel(ctx)
	if fnErr != nil {
		log.Error("pipeline: run failed",
			zap.Duration("duration", res.Duration),
			zap.Error(fnErr),
		)
		if id != "" {
			if err := r.ledger.Fail(ledgerCtx, id, res.Counts, fnErr.Error()); err != nil {
				log.Warn("pipeline: failed to record run failure", zap.Error(err))
			}
		}
		return res, fnErr
	}

	if id != "" {
		if err := r.ledger.Complete(ledgerCtx, id, res.Counts); err != nil {
			log.Warn("pipeline: failed to record run completion", zap.Error(err))
		}
	}
	log.Info("pipeline: run complete",
		zap.Duration("duration", res.Duration),
		zap.Int64("submissions", res.Counts.Submissions),
		zap.Int64("emitted", res.Counts.Emitted),
		zap.Int64("skipped", res.Counts.Skipped),
		zap.Int64("failed", res.Counts.Failed),
		zap.Int64("tables", res.Counts.Tables),
		zap.String("rows", humanize.Comma(res.Counts.Rows)),
		zap.String("bytes", humanize.Bytes(uint64(res.Counts.Bytes))),
		zap.Int64("facts_dropped", res.Counts.FactsDropped),
	)
	return res, nil
}
