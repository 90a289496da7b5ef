// Package ticker resolves CIKs to exchange symbols using SEC's ticker.txt.
package ticker

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fetcher"
	"github.com/sells-group/secfin/internal/resilience"
)

// ErrUpstream means the ticker table could not be fetched or parsed.
var ErrUpstream = errors.New("ticker: upstream failure")

// Unknown is returned for CIKs with no symbol.
const Unknown = "UNKNOWN"

type entry struct {
	Symbol string `csv:"symbol"`
	CIK    int64  `csv:"cik"`
}

// Table maps CIK to symbol.
type Table struct {
	byCIK map[int64]string
}

// Parse reads a headerless, tab-delimited (symbol, cik) table. The first
// symbol listed for a CIK wins. Rows with a non-numeric CIK, an empty symbol,
// or other than two fields are skipped.
func Parse(r io.Reader) (*Table, error) {
	rr := fetcher.NewRecordReader(r, fetcher.CSVOptions{
		Delimiter:  '\t',
		LazyQuotes: true,
		TrimSpace:  true,
	})

	dec, err := csvutil.NewDecoder(rr, "symbol", "cik")
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.Wrap(ErrUpstream, "ticker table is empty")
		}
		return nil, eris.Wrap(err, "ticker: create decoder")
	}

	t := &Table{byCIK: make(map[int64]string)}
	var skipped int
	for {
		var e entry
		err := dec.Decode(&e)
		if err == io.EOF {
			break
		}
		if err != nil {
			var typeErr *csvutil.UnmarshalTypeError
			if errors.As(err, &typeErr) || errors.Is(err, csvutil.ErrFieldCount) {
				skipped++
				continue
			}
			return nil, eris.Wrap(err, "ticker: decode row")
		}
		if e.Symbol == "" {
			skipped++
			continue
		}
		if _, ok := t.byCIK[e.CIK]; !ok {
			t.byCIK[e.CIK] = e.Symbol
		}
	}
	if len(t.byCIK) == 0 {
		return nil, eris.Wrap(ErrUpstream, "ticker table has no usable rows")
	}
	if skipped > 0 {
		zap.L().Debug("ticker rows skipped", zap.Int("skipped", skipped))
	}
	return t, nil
}

// Lookup returns the symbol for cik, or Unknown.
func (t *Table) Lookup(cik int64) string {
	if t == nil {
		return Unknown
	}
	if s, ok := t.byCIK[cik]; ok {
		return s
	}
	return Unknown
}

// Len returns the number of CIKs with a symbol.
func (t *Table) Len() int { return len(t.byCIK) }

// Loader fetches the table from an http(s) URL or a blob key.
type Loader struct {
	Store   blob.Store
	Fetcher fetcher.Fetcher
	Retry   resilience.RetryConfig
}

// Load fetches and parses source with bounded retries. Any failure is
// reported as ErrUpstream.
func (l *Loader) Load(ctx context.Context, source string) (*Table, error) {
	log := zap.L().With(zap.String("component", "ticker"), zap.String("source", source))

	cfg := l.Retry
	cfg.OnRetry = resilience.RetryLogger("ticker", "load")

	t, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Table, error) {
		rc, err := l.open(ctx, source)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck
		return Parse(rc)
	})
	if err != nil {
		if errors.Is(err, ErrUpstream) {
			return nil, err
		}
		return nil, eris.Wrapf(ErrUpstream, "load %s: %v", source, err)
	}

	log.Info("ticker table loaded", zap.Int("ciks", t.Len()))
	return t, nil
}

func (l *Loader) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if l.Fetcher == nil {
			return nil, eris.New("ticker: no fetcher configured for URL source")
		}
		return l.Fetcher.Download(ctx, source)
	}
	if l.Store == nil {
		return nil, eris.New("ticker: no blob store configured for key source")
	}
	return l.Store.Get(ctx, source)
}
