// Package warehouse loads emitted JSON financial documents into Postgres.
package warehouse

import (
	"context"
	"embed"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/db"
	"github.com/sells-group/secfin/internal/partition"
)

// DefaultTable is the table created by Migrate.
const DefaultTable = "sec_json.financial_documents"

// DefaultRoot is the blob prefix holding JSON output.
const DefaultRoot = "JSON_Conversion"

const defaultBatchSize = 500

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationLockID int64 = 7340002

// Columns loaded for every document, in COPY order.
var Columns = []string{
	"adsh", "symbol", "name", "year", "quarter",
	"start_date", "end_date", "country", "city",
	"partition", "document",
}

// Loader copies documents from the blob store into the warehouse table.
type Loader struct {
	store     blob.Store
	pool      db.Pool
	table     string
	batchSize int
}

// New returns a Loader writing to table, or DefaultTable if empty.
func New(store blob.Store, pool db.Pool, table string) *Loader {
	if table == "" {
		table = DefaultTable
	}
	return &Loader{store: store, pool: pool, table: table, batchSize: defaultBatchSize}
}

// Migrate creates the sec_json schema and DefaultTable. A custom table must
// already exist with the same columns.
func (l *Loader) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, l.pool, db.Migrations{
		Schema: "sec_json",
		FS:     migrationFS,
		Dir:    "migrations",
		LockID: migrationLockID,
	})
}

// Result summarizes one load.
type Result struct {
	Partition string `json:"partition"`
	Documents int    `json:"documents"`
	Loaded    int64  `json:"loaded"`
	Invalid   int    `json:"invalid"`
	Bytes     int64  `json:"bytes"`
}

// LoadLatest resolves the newest year/quarter under root and loads it.
func (l *Loader) LoadLatest(ctx context.Context, root string) (*Result, error) {
	if root == "" {
		root = DefaultRoot
	}
	latest, err := partition.Resolve(ctx, l.store, root)
	if err != nil {
		return nil, err
	}
	return l.LoadPrefix(ctx, latest.Prefix(root), latest.Year+"/"+latest.Quarter)
}

// LoadPrefix upserts every .json document under prefix, tagging rows with label.
func (l *Loader) LoadPrefix(ctx context.Context, prefix, label string) (*Result, error) {
	log := zap.L().With(zap.String("component", "warehouse"), zap.String("prefix", prefix))

	keys, err := l.store.List(ctx, prefix)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: list %s", prefix)
	}

	res := &Result{Partition: label}
	cfg := db.UpsertConfig{Table: l.table, Columns: Columns, ConflictKeys: []string{"adsh"}}
	batch := make([][]any, 0, l.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := db.BulkUpsert(ctx, l.pool, cfg, batch)
		if err != nil {
			return eris.Wrapf(err, "warehouse: upsert batch into %s", l.table)
		}
		res.Loaded += n
		batch = batch[:0]
		return nil
	}

	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := l.read(ctx, key)
		if err != nil {
			return res, err
		}
		res.Documents++
		res.Bytes += int64(len(data))

		row, err := DocumentRow(strings.TrimSuffix(path.Base(key), ".json"), label, data)
		if err != nil {
			res.Invalid++
			log.Warn("warehouse: skipping document", zap.String("key", key), zap.Error(err))
			continue
		}
		batch = append(batch, row)
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	log.Info("warehouse: load complete",
		zap.String("table", l.table),
		zap.Int("documents", res.Documents),
		zap.Int64("loaded", res.Loaded),
		zap.Int("invalid", res.Invalid),
		zap.String("bytes", humanize.Bytes(uint64(res.Bytes))),
	)
	return res, nil
}

func (l *Loader) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: get %s", key)
	}
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: read %s", key)
	}
	return data, nil
}

// DocumentRow extracts the indexed fields of one financial document and
// returns them in Columns order. The stored document gains "adsh" and
// "partition" fields.
func DocumentRow(adsh, label string, data []byte) ([]any, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.Errorf("warehouse: %s is not valid JSON", adsh)
	}
	f := gjson.GetManyBytes(data, "symbol", "name", "year", "quarter", "startDate", "endDate", "country", "city")
	symbol := f[0].String()
	if symbol == "" {
		return nil, eris.Errorf("warehouse: %s has no symbol", adsh)
	}
	start, err := parseDate(f[4])
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: %s startDate", adsh)
	}
	end, err := parseDate(f[5])
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: %s endDate", adsh)
	}

	doc, err := sjson.SetBytes(data, "adsh", adsh)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: stamp %s", adsh)
	}
	doc, err = sjson.SetBytes(doc, "partition", label)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: stamp %s", adsh)
	}

	var year any
	if f[2].Exists() && f[2].Int() != 0 {
		year = int32(f[2].Int())
	}
	return []any{
		adsh, symbol, f[1].String(), year, f[3].String(),
		start, end, f[6].String(), f[7].String(),
		label, doc,
	}, nil
}

func parseDate(r gjson.Result) (any, error) {
	if r.String() == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", r.String())
	if err != nil {
		return nil, err
	}
	return t, nil
}
