package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/secfin/internal/fsds"
)

// BackfillOptions selects a range of partitions to process.
type BackfillOptions struct {
	From        fsds.Partition
	To          fsds.Partition
	Mode        Mode
	Concurrency int
	// SkipMissing treats an absent raw archive as a skip instead of a failure.
	SkipMissing bool
}

// Partitions returns every partition from From to To inclusive.
func (o BackfillOptions) Partitions() ([]fsds.Partition, error) {
	if o.To.Before(o.From) {
		return nil, eris.Errorf("pipeline: backfill range %s..%s is reversed", o.From, o.To)
	}
	var parts []fsds.Partition
	for p := o.From; !o.To.Before(p); p = p.Next() {
		parts = append(parts, p)
	}
	return parts, nil
}

// Backfill runs independent partitions in parallel, at most Concurrency at a
// time. Results are returned in partition order; a skipped partition has a
// nil entry. The first failure cancels the remaining runs.
func (r *Runner) Backfill(ctx context.Context, opts BackfillOptions) ([]*Result, error) {
	parts, err := opts.Partitions()
	if err != nil {
		return nil, err
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	log := zap.L().With(zap.String("component", "pipeline.backfill"), zap.String("mode", string(opts.Mode)))
	log.Info("backfill starting",
		zap.Stringer("from", opts.From),
		zap.Stringer("to", opts.To),
		zap.Int("partitions", len(parts)),
		zap.Int("concurrency", opts.Concurrency),
	)

	results := make([]*Result, len(parts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, p := range parts {
		g.Go(func() error {
			res, err := r.Run(gCtx, p, opts.Mode)
			if err != nil {
				if opts.SkipMissing && errors.Is(err, fsds.ErrArchiveNotFound) {
					log.Warn("raw archive missing, skipping", zap.Stringer("partition", p))
					return nil
				}
				return eris.Wrapf(err, "backfill %s", p)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
