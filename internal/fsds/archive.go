package fsds

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fetcher"
)

// ErrArchiveNotFound means the raw archive for a partition is not in the store.
var ErrArchiveNotFound = errors.New("fsds: archive not found")

// Archive is an opened quarterly archive spooled to local disk.
type Archive struct {
	partition Partition
	schema    Schema
	path      string
	zr        *zip.ReadCloser
	log       *zap.Logger
}

// OpenArchive fetches raw/{year}_Q{quarter}.zip from store, spools it under
// tempDir, and opens it. Close removes the spooled file.
func OpenArchive(ctx context.Context, store blob.Store, tempDir string, p Partition) (*Archive, error) {
	log := zap.L().With(zap.String("component", "fsds.archive"), zap.String("partition", p.SourceID()))

	key := p.RawKey()
	rc, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, eris.Wrapf(ErrArchiveNotFound, "%s", key)
		}
		return nil, eris.Wrapf(err, "fsds: fetch %s", key)
	}
	defer rc.Close() //nolint:errcheck

	path, n, err := fetcher.SpoolToFile(rc, tempDir, p.SourceID()+".zip")
	if err != nil {
		return nil, eris.Wrapf(err, "fsds: spool %s", key)
	}

	zr, err := fetcher.OpenZIP(path)
	if err != nil {
		os.Remove(path) //nolint:errcheck
		return nil, eris.Wrapf(err, "fsds: open %s", key)
	}

	log.Info("archive opened", zap.String("key", key), zap.String("size", humanize.Bytes(uint64(n))), zap.Int("entries", len(zr.File)))
	return &Archive{partition: p, schema: DefaultSchema(), path: path, zr: zr, log: log}, nil
}

// Partition returns the partition the archive belongs to.
func (a *Archive) Partition() Partition { return a.partition }

// Has reports whether the member is present.
func (a *Archive) Has(ft FileType) bool {
	return fetcher.FindZIPEntry(&a.zr.Reader, ft.Member()) != nil
}

// Require returns ErrSchemaMismatch naming every absent member.
func (a *Archive) Require(fts ...FileType) error {
	var missing []string
	for _, ft := range fts {
		if !a.Has(ft) {
			missing = append(missing, ft.Member())
		}
	}
	if len(missing) > 0 {
		return eris.Wrapf(ErrSchemaMismatch, "%s: missing members %s", a.partition.SourceID(), strings.Join(missing, ", "))
	}
	return nil
}

// Scan streams the member row by row through the normalizer. onHeader, if
// non-nil, is called once with the column layout before the first row. A
// non-nil error from fn stops the scan and is returned.
func (a *Archive) Scan(ctx context.Context, ft FileType, onHeader func(*Header) error, fn func(Row) error) (int64, error) {
	entry := fetcher.FindZIPEntry(&a.zr.Reader, ft.Member())
	if entry == nil {
		return 0, eris.Wrapf(ErrSchemaMismatch, "%s: missing member %s", a.partition.SourceID(), ft.Member())
	}

	f, err := entry.Open()
	if err != nil {
		return 0, eris.Wrapf(err, "fsds: open member %s", ft.Member())
	}
	defer f.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The header is sent before any row, so it is buffered by the time the
	// first row or the end of the stream is seen.
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		Delimiter: '\t',
		NoQuotes:  true,
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	var norm *Normalizer
	header := func() error {
		if norm != nil {
			return nil
		}
		var cols []string
		select {
		case cols = <-headerCh:
		default:
			return eris.Wrapf(ErrSchemaMismatch, "%s: member %s is empty", a.partition.SourceID(), ft.Member())
		}
		n, err := NewNormalizer(a.schema, ft, cols, a.partition)
		if err != nil {
			return err
		}
		norm = n
		if onHeader != nil {
			return onHeader(norm.Header())
		}
		return nil
	}

	var rows int64
	for record := range rowCh {
		if err := header(); err != nil {
			return 0, err
		}
		if err := fn(norm.Normalize(record)); err != nil {
			return rows, err
		}
		rows++
	}
	if err := <-errCh; err != nil {
		return rows, eris.Wrapf(err, "fsds: read %s", ft.Member())
	}
	if err := header(); err != nil {
		return 0, err
	}

	a.log.Debug("member scanned", zap.String("member", ft.Member()), zap.Int64("rows", rows))
	return rows, nil
}

// Close closes the archive and removes the spooled file.
func (a *Archive) Close() error {
	err := a.zr.Close()
	if rmErr := os.Remove(a.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	if err != nil {
		return eris.Wrap(err, "fsds: close archive")
	}
	return nil
}
