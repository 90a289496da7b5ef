package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/emit"
	"github.com/sells-group/secfin/internal/fsds"
)

// runColumnar converts each member present in the archive. Missing members
// are logged and skipped; an archive with none of them is a schema mismatch.
func (r *Runner) runColumnar(ctx context.Context, p fsds.Partition, res *Result) error {
	log := zap.L().With(zap.String("component", "pipeline.columnar"), zap.String("partition", p.SourceID()))

	a, err := fsds.OpenArchive(ctx, r.store, r.opts.TempDir, p)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	for _, ft := range fsds.FileTypes {
		if !a.Has(ft) {
			log.Warn("member missing from archive, skipping", zap.String("member", ft.Member()))
			continue
		}
		key, rows, err := r.convertMember(ctx, a, ft)
		if err != nil {
			return err
		}
		res.Counts.Tables++
		res.Counts.Rows += rows
		log.Info("table written", zap.String("key", key), zap.Int64("rows", rows))
	}

	if res.Counts.Tables == 0 {
		return eris.Wrapf(fsds.ErrSchemaMismatch, "%s: archive holds none of sub, num, pre, tag", p.SourceID())
	}
	return nil
}

func (r *Runner) convertMember(ctx context.Context, a *fsds.Archive, ft fsds.FileType) (string, int64, error) {
	var tw *emit.TableWriter
	_, err := a.Scan(ctx, ft,
		func(h *fsds.Header) error {
			var err error
			tw, err = r.parquet.Begin(a.Partition(), ft, h)
			return err
		},
		func(row fsds.Row) error { return tw.Write(row) },
	)
	if err != nil {
		if tw != nil {
			tw.Abort()
		}
		return "", 0, err
	}
	return tw.Commit(ctx)
}
