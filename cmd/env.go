package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fetcher"
	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/pipeline"
	"github.com/sells-group/secfin/internal/resilience"
	"github.com/sells-group/secfin/internal/runlog"
	"github.com/sells-group/secfin/internal/scrape"
	"github.com/sells-group/secfin/internal/ticker"
	"github.com/sells-group/secfin/internal/warehouse"
)

// initBlob builds the object store named by blob.driver.
func initBlob() (blob.Store, error) {
	switch cfg.Blob.Driver {
	case "fs":
		if err := os.MkdirAll(cfg.Blob.Root, 0o755); err != nil {
			return nil, eris.Wrapf(err, "create blob root %s", cfg.Blob.Root)
		}
		return blob.NewFSStore(afero.NewOsFs(), cfg.Blob.Root), nil
	case "minio":
		return blob.NewMinioStore(blob.MinioConfig{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			Region:    cfg.Blob.Region,
			UseSSL:    cfg.Blob.UseSSL,
		})
	default:
		return nil, eris.Errorf("unsupported blob driver: %s", cfg.Blob.Driver)
	}
}

func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
	})
}

// connectPool opens and pings a Postgres pool.
func connectPool(ctx context.Context, dsn, purpose string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.Errorf("%s: no database url configured", purpose)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create connection pool", purpose)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrapf(err, "%s: ping database", purpose)
	}
	return pool, nil
}

// initRunLog opens the run ledger named by runlog.driver and applies its schema.
// The returned close func releases the ledger and any pool behind it.
func initRunLog(ctx context.Context) (runlog.Store, func(), error) {
	switch cfg.RunLog.Driver {
	case "sqlite":
		st, err := runlog.NewSQLite(ctx, cfg.RunLog.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "postgres":
		pool, err := connectPool(ctx, cfg.RunLog.DSN, "runlog")
		if err != nil {
			return nil, nil, err
		}
		st := runlog.NewPostgres(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported runlog driver: %s", cfg.RunLog.Driver)
	}
}

// pipelineEnv holds what the pipeline commands share. Callers should defer
// env.Close().
type pipelineEnv struct {
	Store   blob.Store
	Ledger  runlog.Store
	Runner  *pipeline.Runner
	Scraper *scrape.Scraper

	closeLedger func()
}

// Close releases the ledger.
func (pe *pipelineEnv) Close() {
	if pe.closeLedger != nil {
		pe.closeLedger()
	}
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Pipeline.TempDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "create temp dir %s", cfg.Pipeline.TempDir)
	}

	store, err := initBlob()
	if err != nil {
		return nil, err
	}
	ledger, closeLedger, err := initRunLog(ctx)
	if err != nil {
		return nil, err
	}

	f := newFetcher()
	tickers := &ticker.Loader{Store: store, Fetcher: f, Retry: resilience.DefaultRetryConfig()}
	runner := pipeline.New(store, tickers, ledger, pipeline.Options{
		TempDir:      cfg.Pipeline.TempDir,
		BatchRows:    cfg.Pipeline.BatchRows,
		TickerSource: cfg.Ticker.Source,
	})

	return &pipelineEnv{
		Store:       store,
		Ledger:      ledger,
		Runner:      runner,
		Scraper:     scrape.New(f, store, cfg.Fetch.ListingURL, cfg.Pipeline.TempDir),
		closeLedger: closeLedger,
	}, nil
}

// initWarehouse builds a Loader on its own pool and applies the schema.
func initWarehouse(ctx context.Context, store blob.Store) (*warehouse.Loader, *pgxpool.Pool, error) {
	if err := cfg.Validate("warehouse"); err != nil {
		return nil, nil, err
	}
	pool, err := connectPool(ctx, cfg.Warehouse.DatabaseURL, "warehouse")
	if err != nil {
		return nil, nil, err
	}
	l := warehouse.New(store, pool, cfg.Warehouse.Table)
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	zap.L().Debug("warehouse ready", zap.String("table", cfg.Warehouse.Table))
	return l, pool, nil
}

func addPartitionFlags(cmd *cobra.Command) {
	cmd.Flags().String("partition", "", "partition to process, e.g. 2024Q1")
	cmd.Flags().Int("year", 0, "year of the partition")
	cmd.Flags().Int("quarter", 0, "quarter of the partition (1-4)")
}

// partitionFromFlags reads --partition, or --year with --quarter.
func partitionFromFlags(cmd *cobra.Command) (fsds.Partition, error) {
	if s, _ := cmd.Flags().GetString("partition"); s != "" {
		return fsds.ParsePartition(s)
	}
	year, _ := cmd.Flags().GetInt("year")
	quarter, _ := cmd.Flags().GetInt("quarter")
	if year == 0 && quarter == 0 {
		return fsds.Partition{}, eris.New("a partition is required (--partition or --year with --quarter)")
	}
	p, err := fsds.NewPartition(year, quarter)
	if err != nil {
		return fsds.Partition{}, eris.Wrap(err, "invalid partition flags")
	}
	return p, nil
}
