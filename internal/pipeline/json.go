package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/fsds/classify"
	"github.com/sells-group/secfin/internal/ticker"
)

// factGroup holds one submission's facts between the num.txt scan and emit.
// Facts with no presentation entry are only counted.
type factGroup struct {
	adsh   string
	facts  []fsds.NumericFact
	noPres int
}

// keep copies f's strings off the scanned line so the line can be freed.
func (g *factGroup) keep(f fsds.NumericFact) {
	f.ADSH = g.adsh
	f.Tag = strings.Clone(f.Tag)
	f.Version = strings.Clone(f.Version)
	f.UOM = strings.Clone(f.UOM)
	f.Coreg = strings.Clone(f.Coreg)
	g.facts = append(g.facts, f)
}

// runJSON builds the tag and presentation indexes, groups presented facts by
// submission, then emits submissions in sub.txt order. Each submission's
// facts are released once it is written.
func (r *Runner) runJSON(ctx context.Context, p fsds.Partition, res *Result) error {
	log := zap.L().With(zap.String("component", "pipeline.json"), zap.String("partition", p.SourceID()))

	a, err := fsds.OpenArchive(ctx, r.store, r.opts.TempDir, p)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if err := a.Require(fsds.FileTypes...); err != nil {
		return err
	}

	symbols, err := r.tickers.Load(ctx, r.opts.TickerSource)
	if err != nil {
		return err
	}

	tags := classify.NewTagIndex()
	if _, err := a.Scan(ctx, fsds.FileTag, nil, func(row fsds.Row) error {
		tags.Add(fsds.DecodeTag(row))
		return nil
	}); err != nil {
		return err
	}

	pres := classify.NewPresentationIndex()
	if _, err := a.Scan(ctx, fsds.FilePre, nil, func(row fsds.Row) error {
		pres.Add(fsds.DecodePresentation(row))
		return nil
	}); err != nil {
		return err
	}

	var subs []fsds.Submission
	groups := make(map[string]*factGroup)
	if _, err := a.Scan(ctx, fsds.FileSub, nil, func(row fsds.Row) error {
		s := fsds.DecodeSubmission(row)
		if s.ADSH == "" {
			res.Counts.Skipped++
			return nil
		}
		if _, dup := groups[s.ADSH]; dup {
			log.Warn("duplicate submission, keeping first", zap.String("adsh", s.ADSH))
			return nil
		}
		groups[s.ADSH] = &factGroup{adsh: s.ADSH}
		subs = append(subs, s)
		return nil
	}); err != nil {
		return err
	}

	var orphans int64
	if _, err := a.Scan(ctx, fsds.FileNum, nil, func(row fsds.Row) error {
		f := fsds.DecodeFact(row)
		g, ok := groups[f.ADSH]
		if !ok {
			orphans++
			return nil
		}
		if _, _, ok := pres.Lookup(f.ADSH, f.Tag); !ok {
			g.noPres++
			return nil
		}
		g.keep(f)
		return nil
	}); err != nil {
		return err
	}

	log.Info("indexes built",
		zap.Int("tags", tags.Len()),
		zap.Int("presentations", pres.Len()),
		zap.Int("submissions", len(subs)),
		zap.Int64("orphan_facts", orphans),
	)

	c := classify.New(tags, pres)
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: json conversion cancelled")
		}

		g := groups[sub.ADSH]
		delete(groups, sub.ADSH)
		res.Counts.Submissions++
		res.Counts.Facts += int64(len(g.facts) + g.noPres)

		stats, size, err := r.emitSubmission(ctx, p, c, symbols, sub, g)
		res.Facts.Add(stats)
		switch {
		case err == nil:
			res.Counts.Emitted++
			res.Counts.Bytes += int64(size)
		case errors.Is(err, classify.ErrInvalidPeriod):
			res.Counts.Skipped++
			log.Warn("submission skipped", zap.String("adsh", sub.ADSH), zap.Error(err))
		case ctx.Err() != nil:
			return eris.Wrap(ctx.Err(), "pipeline: json conversion cancelled")
		default:
			res.Counts.Failed++
			log.Error("submission failed", zap.String("adsh", sub.ADSH), zap.Error(err))
		}
	}

	if res.Counts.Emitted == 0 && res.Counts.Failed > 0 {
		return eris.Errorf("pipeline: all %d attempted submissions failed", res.Counts.Failed)
	}
	return nil
}

// emitSubmission classifies and writes one submission. A panic is recovered
// and returned as an error so one bad submission cannot abort the archive.
func (r *Runner) emitSubmission(
	ctx context.Context,
	p fsds.Partition,
	c *classify.Classifier,
	symbols *ticker.Table,
	sub fsds.Submission,
	g *factGroup,
) (stats classify.Stats, size int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = eris.Errorf("pipeline: panic processing %s: %v", sub.ADSH, rec)
		}
	}()

	if sub.Period.IsZero() {
		return stats, 0, eris.Wrapf(classify.ErrInvalidPeriod, "submission %s", sub.ADSH)
	}

	symbol := ticker.Unknown
	if sub.HasCIK {
		symbol = symbols.Lookup(sub.CIK)
	}

	buckets, stats := c.Classify(sub.ADSH, g.facts)
	stats.Facts += g.noPres
	stats.NoPresentation += g.noPres
	doc, err := classify.BuildDocument(sub, symbol, buckets)
	if err != nil {
		return stats, 0, err
	}
	_, size, err = r.json.Emit(ctx, p, sub.ADSH, doc)
	return stats, size, err
}
