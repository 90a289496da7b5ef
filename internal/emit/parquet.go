package emit

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fsds"
)

const defaultBatchRows = 10000

// ParquetEmitter writes normalized members to extracted/{year}Q{quarter}/{type}.parquet.
type ParquetEmitter struct {
	store     blob.Store
	tempDir   string
	batchRows int
}

// NewParquetEmitter stages files under tempDir before upload. batchRows <= 0
// uses the default.
func NewParquetEmitter(store blob.Store, tempDir string, batchRows int) *ParquetEmitter {
	if batchRows <= 0 {
		batchRows = defaultBatchRows
	}
	return &ParquetEmitter{store: store, tempDir: tempDir, batchRows: batchRows}
}

// ParquetNode returns the optional leaf used for a column kind. Decimals are
// stored as DOUBLE and dates as DATE (days since epoch).
func ParquetNode(k fsds.Kind) parquet.Node {
	var n parquet.Node
	switch k {
	case fsds.KindInt:
		n = parquet.Int(64)
	case fsds.KindDecimal:
		n = parquet.Leaf(parquet.DoubleType)
	case fsds.KindDate:
		n = parquet.Date()
	default:
		n = parquet.String()
	}
	return parquet.Optional(n)
}

// Schema builds the parquet schema for a normalized header.
func Schema(ft fsds.FileType, h *fsds.Header) *parquet.Schema {
	g := make(parquet.Group, len(h.Columns))
	for _, c := range h.Columns {
		g[c.Name] = ParquetNode(c.Kind)
	}
	return parquet.NewSchema(string(ft), g)
}

// TableWriter streams one member into a staged parquet file.
type TableWriter struct {
	e      *ParquetEmitter
	key    string
	header *fsds.Header
	file   *os.File
	w      *parquet.Writer
	// colIdx[i] is the leaf index of header column i; leaves are ordered by name.
	colIdx []int
	batch  []parquet.Row
	rows   int64
}

// Begin opens a staged table for ft.
func (e *ParquetEmitter) Begin(p fsds.Partition, ft fsds.FileType, h *fsds.Header) (*TableWriter, error) {
	if err := os.MkdirAll(e.tempDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "emit: create temp dir %s", e.tempDir)
	}
	f, err := os.CreateTemp(e.tempDir, p.SourceID()+"-"+string(ft)+"-*.parquet")
	if err != nil {
		return nil, eris.Wrap(err, "emit: create staging file")
	}

	names := make([]string, len(h.Columns))
	for i, c := range h.Columns {
		names[i] = c.Name
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	leaf := make(map[string]int, len(sorted))
	for i, n := range sorted {
		leaf[n] = i
	}
	colIdx := make([]int, len(names))
	for i, n := range names {
		colIdx[i] = leaf[n]
	}

	return &TableWriter{
		e:      e,
		key:    p.ColumnarKey(ft),
		header: h,
		file:   f,
		w:      parquet.NewWriter(f, Schema(ft, h), parquet.Compression(&parquet.Snappy)),
		colIdx: colIdx,
		batch:  make([]parquet.Row, 0, e.batchRows),
	}, nil
}

// Write appends one row.
func (tw *TableWriter) Write(r fsds.Row) error {
	tw.batch = append(tw.batch, tw.toParquet(r))
	if len(tw.batch) >= tw.e.batchRows {
		return tw.flush()
	}
	return nil
}

func (tw *TableWriter) flush() error {
	if len(tw.batch) == 0 {
		return nil
	}
	if _, err := tw.w.WriteRows(tw.batch); err != nil {
		return eris.Wrapf(err, "emit: write rows to %s", tw.key)
	}
	tw.rows += int64(len(tw.batch))
	tw.batch = tw.batch[:0]
	return nil
}

func (tw *TableWriter) toParquet(r fsds.Row) parquet.Row {
	row := make(parquet.Row, len(tw.colIdx))
	for i := range tw.header.Columns {
		col := tw.colIdx[i]
		var v any
		if i < len(r.Values) {
			v = r.Values[i]
		}
		row[col] = leafValue(v).Level(0, definition(v), col)
	}
	return row
}

func definition(v any) int {
	if v == nil {
		return 0
	}
	return 1
}

func leafValue(v any) parquet.Value {
	switch x := v.(type) {
	case nil:
		return parquet.Value{}
	case int64:
		return parquet.Int64Value(x)
	case decimal.Decimal:
		return parquet.DoubleValue(x.InexactFloat64())
	case time.Time:
		return parquet.Int32Value(int32(x.Unix() / 86400))
	case string:
		return parquet.ByteArrayValue([]byte(x))
	default:
		return parquet.Value{}
	}
}

// Commit finishes the file and uploads it, replacing any previous table.
// It returns the blob key and row count.
func (tw *TableWriter) Commit(ctx context.Context) (string, int64, error) {
	defer tw.cleanup()

	if err := tw.flush(); err != nil {
		return "", 0, err
	}
	if err := tw.w.Close(); err != nil {
		return "", 0, eris.Wrapf(err, "emit: finish %s", tw.key)
	}
	info, err := tw.file.Stat()
	if err != nil {
		return "", 0, eris.Wrap(err, "emit: stat staging file")
	}
	if _, err := tw.file.Seek(0, 0); err != nil {
		return "", 0, eris.Wrap(err, "emit: rewind staging file")
	}
	if err := tw.e.store.Put(ctx, tw.key, tw.file, info.Size()); err != nil {
		return "", 0, eris.Wrapf(err, "emit: put %s", tw.key)
	}

	zap.L().Info("parquet table written",
		zap.String("component", "emit.parquet"),
		zap.String("key", tw.key),
		zap.Int64("rows", tw.rows),
		zap.String("size", humanize.Bytes(uint64(info.Size()))),
	)
	return tw.key, tw.rows, nil
}

// Abort discards the staged file.
func (tw *TableWriter) Abort() { tw.cleanup() }

func (tw *TableWriter) cleanup() {
	if tw.file == nil {
		return
	}
	tw.file.Close()           //nolint:errcheck
	os.Remove(tw.file.Name()) //nolint:errcheck
	tw.file = nil
}
