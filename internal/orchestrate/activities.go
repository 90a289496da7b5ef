// Package orchestrate runs the scrape, extract, convert and load steps as a
// Temporal workflow.
package orchestrate

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/pipeline"
	"github.com/sells-group/secfin/internal/scrape"
	"github.com/sells-group/secfin/internal/warehouse"
)

// Scraper downloads raw archives. *scrape.Scraper satisfies it.
type Scraper interface {
	Fetch(ctx context.Context, year, quarter int) ([]scrape.Downloaded, error)
}

// Converter runs the two pipeline entry points and the presence check.
// *pipeline.Runner satisfies it.
type Converter interface {
	ExtractAndConvert(ctx context.Context, year, quarter int) (*pipeline.Result, error)
	ExtractAndConvertToJSON(ctx context.Context, year, quarter int) (*pipeline.Result, error)
	Exists(ctx context.Context, year, quarter int) (bool, error)
}

// Loader loads the newest JSON partition into the warehouse. *warehouse.Loader satisfies it.
type Loader interface {
	LoadLatest(ctx context.Context, root string) (*warehouse.Result, error)
}

// PartitionInput identifies one quarterly archive.
type PartitionInput struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

// Activities holds the dependencies the activities call. Warehouse may be
// nil when no database is configured.
type Activities struct {
	Scraper   Scraper
	Converter Converter
	Warehouse Loader
}

// Scrape downloads the raw archive for the partition.
func (a *Activities) Scrape(ctx context.Context, in PartitionInput) ([]scrape.Downloaded, error) {
	activity.GetLogger(ctx).Info("scrape starting", "year", in.Year, "quarter", in.Quarter)
	out, err := a.Scraper.Fetch(ctx, in.Year, in.Quarter)
	return out, asActivityError(err)
}

// Exists reports whether columnar output is already present for the partition.
func (a *Activities) Exists(ctx context.Context, in PartitionInput) (bool, error) {
	ok, err := a.Converter.Exists(ctx, in.Year, in.Quarter)
	if err != nil {
		return false, asActivityError(err)
	}
	activity.GetLogger(ctx).Info("presence checked", "year", in.Year, "quarter", in.Quarter, "present", ok)
	return ok, nil
}

// ExtractAndConvert writes the columnar output for the partition.
func (a *Activities) ExtractAndConvert(ctx context.Context, in PartitionInput) (*pipeline.Result, error) {
	res, err := a.Converter.ExtractAndConvert(ctx, in.Year, in.Quarter)
	return res, asActivityError(err)
}

// ExtractAndConvertToJSON writes the per-submission JSON output for the partition.
func (a *Activities) ExtractAndConvertToJSON(ctx context.Context, in PartitionInput) (*pipeline.Result, error) {
	res, err := a.Converter.ExtractAndConvertToJSON(ctx, in.Year, in.Quarter)
	return res, asActivityError(err)
}

// LoadWarehouse loads the newest JSON partition under root.
func (a *Activities) LoadWarehouse(ctx context.Context, root string) (*warehouse.Result, error) {
	if a.Warehouse == nil {
		return nil, temporal.NewNonRetryableApplicationError("warehouse is not configured", "WarehouseNotConfigured", nil)
	}
	res, err := a.Warehouse.LoadLatest(ctx, root)
	return res, asActivityError(err)
}

// asActivityError marks failures a retry cannot fix as non-retryable.
// A missing archive stays retryable since a scrape may still land it.
func asActivityError(err error) error {
	if err == nil {
		return nil
	}
	var kind string
	switch {
	case errors.Is(err, fsds.ErrSchemaMismatch):
		kind = "SchemaMismatch"
	case errors.Is(err, scrape.ErrNoArchives):
		kind = "NoArchives"
	case errors.Is(err, scrape.ErrEmptyDownload):
		kind = "EmptyDownload"
	default:
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
}
