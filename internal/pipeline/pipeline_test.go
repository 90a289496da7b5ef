package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/emit"
	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/fsds/fsdstest"
	"github.com/sells-group/secfin/internal/runlog"
	"github.com/sells-group/secfin/internal/ticker"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var q1 = fsds.Partition{Year: 2024, Quarter: 1}

type mockTickers struct {
	mock.Mock
}

func (m *mockTickers) Load(ctx context.Context, source string) (*ticker.Table, error) {
	args := m.Called(ctx, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ticker.Table), args.Error(1)
}

func appleTickers(t *testing.T) *mockTickers {
	t.Helper()
	table, err := ticker.Parse(strings.NewReader("aapl\t320193\nmsft\t789019\n"))
	require.NoError(t, err)
	m := &mockTickers{}
	m.On("Load", mock.Anything, "ticker.txt").Return(table, nil)
	return m
}

func newRunner(t *testing.T, store blob.Store, tickers TickerSource, ledger runlog.Store) *Runner {
	t.Helper()
	return New(store, tickers, ledger, Options{
		TempDir:      t.TempDir(),
		BatchRows:    2,
		TickerSource: "ticker.txt",
	})
}

func newLedger(t *testing.T) *runlog.SQLite {
	t.Helper()
	l, err := runlog.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	return l
}

func readBlob(t *testing.T, store blob.Store, key string) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("json")
	require.NoError(t, err)
	assert.Equal(t, ModeJSON, m)

	m, err = ParseMode("parquet")
	require.NoError(t, err)
	assert.Equal(t, ModeParquet, m)

	_, err = ParseMode("csv")
	assert.Error(t, err)
}

func TestExtractAndConvertToJSON_EndToEnd(t *testing.T) {
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), fsdstest.Fixture2024Q1())
	ledger := newLedger(t)
	tickers := appleTickers(t)

	res, err := newRunner(t, store, tickers, ledger).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Counts.Submissions)
	assert.Equal(t, int64(1), res.Counts.Emitted)
	assert.Equal(t, int64(1), res.Counts.Facts)
	assert.Zero(t, res.Counts.FactsDropped)
	assert.Positive(t, res.Counts.Bytes)
	tickers.AssertExpectations(t)

	doc, err := emit.DecodeDocument(readBlob(t, store, "JSON_Conversion/2024/q1/"+fsdstest.ADSH+".json"))
	require.NoError(t, err)
	assert.Equal(t, "aapl", doc.Symbol)
	assert.Equal(t, "APPLE INC", doc.Name)
	assert.Equal(t, int64(2024), doc.Year)
	assert.Equal(t, "Q1", doc.Quarter)
	assert.Equal(t, "2023-12-31", doc.StartDate)
	assert.Equal(t, "2023-12-31", doc.EndDate)
	assert.Equal(t, "US", doc.Country)
	assert.Equal(t, "CUPERTINO", doc.City)
	assert.Empty(t, doc.Data.BS)
	assert.Empty(t, doc.Data.CF)
	require.Len(t, doc.Data.IC, 1)

	rec := doc.Data.IC[0]
	assert.Equal(t, fsdstest.RevenueDoc, rec.Label)
	assert.Equal(t, "Revenues", rec.Concept)
	assert.Equal(t, fsdstest.RevenueInfo, rec.Info)
	assert.Equal(t, "USD", rec.Unit)
	assert.Equal(t, 119575000000.0, rec.Value)

	entries, err := ledger.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.RunID, entries[0].ID)
	assert.Equal(t, "2024Q1", entries[0].Partition)
	assert.Equal(t, "json", entries[0].Mode)
	assert.Equal(t, runlog.StatusComplete, entries[0].Status)
	assert.Equal(t, int64(1), entries[0].Counts.Emitted)
}

func TestExtractAndConvertToJSON_UnknownCIK(t *testing.T) {
	members := fsdstest.Fixture2024Q1()
	members["sub.txt"] = strings.Replace(members["sub.txt"], fsdstest.CIK, "999999", 1)

	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), members)

	_, err := newRunner(t, store, appleTickers(t), nil).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.NoError(t, err)

	doc, err := emit.DecodeDocument(readBlob(t, store, q1.JSONKey(fsdstest.ADSH)))
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", doc.Symbol)
}

func TestExtractAndConvertToJSON_SkipsAndDrops(t *testing.T) {
	const noPeriod = "0001-24-000002"
	members := fsdstest.Fixture2024Q1()
	members["sub.txt"] = fsdstest.TSV(fsdstest.SubHeader,
		[]string{fsdstest.ADSH, fsdstest.CIK, "APPLE INC", "3571", "US", "CUPERTINO", "", "", "10-Q", "20231231", "2024", "Q1", "20240202"},
		[]string{noPeriod, "789019", "MICROSOFT CORP", "7372", "US", "REDMOND", "US", "REDMOND", "10-Q", "", "2024", "Q2", "20240425"},
	)
	members["num.txt"] = fsdstest.TSV(fsdstest.NumHeader,
		[]string{fsdstest.ADSH, "Revenues", "us-gaap/2023", "20231231", "1", "USD", "", "119575000000", ""},
		[]string{fsdstest.ADSH, "Assets", "us-gaap/2023", "20231231", "0", "USD", "", "353514000000", ""},
		[]string{fsdstest.ADSH, "NetIncomeLoss", "us-gaap/2023", "20231231", "1", "USD", "", "", ""},
		[]string{noPeriod, "Revenues", "us-gaap/2023", "20240331", "1", "USD", "", "61858000000", ""},
		[]string{"0009-99-999999", "Revenues", "us-gaap/2023", "20240331", "1", "USD", "", "1", ""},
	)
	members["pre.txt"] = fsdstest.TSV(fsdstest.PreHeader,
		[]string{fsdstest.ADSH, "4", "1", "IC", "0", "H", "Revenues", "us-gaap/2023", fsdstest.RevenueInfo, "0"},
		[]string{fsdstest.ADSH, "4", "9", "IS", "0", "H", "NetIncomeLoss", "us-gaap/2023", "Net income", "0"},
	)

	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), members)

	res, err := newRunner(t, store, appleTickers(t), nil).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Counts.Submissions)
	assert.Equal(t, int64(1), res.Counts.Emitted)
	assert.Equal(t, int64(1), res.Counts.Skipped)
	assert.Equal(t, int64(4), res.Counts.Facts)
	assert.Equal(t, int64(1), res.Counts.FactsDropped)
	assert.Equal(t, 1, res.Facts.NullValues)

	doc, err := emit.DecodeDocument(readBlob(t, store, q1.JSONKey(fsdstest.ADSH)))
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", doc.Country)
	require.Len(t, doc.Data.IC, 2)
	assert.LessOrEqual(t, doc.Data.Len(), 3)
	assert.Equal(t, "Net income", doc.Data.IC[1].Info)
	assert.Zero(t, doc.Data.IC[1].Value)

	_, err = store.Get(context.Background(), q1.JSONKey(noPeriod))
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

const secondADSH = "0001-24-000002"

// twoFilings extends the base fixture with a second, fully presented filing.
func twoFilings() fsdstest.Members {
	members := fsdstest.Fixture2024Q1()
	members["sub.txt"] = fsdstest.TSV(fsdstest.SubHeader,
		[]string{fsdstest.ADSH, fsdstest.CIK, "APPLE INC", "3571", "US", "CUPERTINO", "US", "CUPERTINO", "10-Q", "20231231", "2024", "Q1", "20240202"},
		[]string{secondADSH, "789019", "MICROSOFT CORP", "7372", "US", "REDMOND", "US", "REDMOND", "10-Q", "20240331", "2024", "Q3", "20240425"},
	)
	members["num.txt"] = fsdstest.TSV(fsdstest.NumHeader,
		[]string{fsdstest.ADSH, "Revenues", "us-gaap/2023", "20231231", "1", "USD", "", "119575000000", ""},
		[]string{secondADSH, "Revenues", "us-gaap/2023", "20240331", "1", "USD", "", "61858000000", ""},
	)
	members["pre.txt"] = fsdstest.TSV(fsdstest.PreHeader,
		[]string{fsdstest.ADSH, "4", "1", "IC", "0", "H", "Revenues", "us-gaap/2023", fsdstest.RevenueInfo, "0"},
		[]string{secondADSH, "4", "1", "IC", "0", "H", "Revenues", "us-gaap/2023", "Revenue", "0"},
	)
	return members
}

// faultyStore fails or panics on Put for the listed keys.
type faultyStore struct {
	blob.Store
	fail   map[string]bool
	panics map[string]bool
}

func (s *faultyStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if s.panics[key] {
		panic("put " + key)
	}
	if s.fail[key] {
		return errors.New("store unavailable")
	}
	return s.Store.Put(ctx, key, r, size)
}

func TestExtractAndConvertToJSON_OneSubmissionFails(t *testing.T) {
	inner := fsdstest.MemStore()
	fsdstest.PutArchive(t, inner, q1.RawKey(), twoFilings())
	store := &faultyStore{Store: inner, fail: map[string]bool{q1.JSONKey(secondADSH): true}}
	ledger := newLedger(t)

	res, err := newRunner(t, store, appleTickers(t), ledger).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Counts.Submissions)
	assert.Equal(t, int64(1), res.Counts.Emitted)
	assert.Equal(t, int64(1), res.Counts.Failed)

	_, err = inner.Get(context.Background(), q1.JSONKey(fsdstest.ADSH))
	require.NoError(t, err)
	_, err = inner.Get(context.Background(), q1.JSONKey(secondADSH))
	assert.ErrorIs(t, err, blob.ErrNotFound)

	entries, err := ledger.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, runlog.StatusComplete, entries[0].Status)
	assert.Equal(t, int64(1), entries[0].Counts.Failed)
}

func TestExtractAndConvertToJSON_PanicIsContained(t *testing.T) {
	inner := fsdstest.MemStore()
	fsdstest.PutArchive(t, inner, q1.RawKey(), twoFilings())
	store := &faultyStore{Store: inner, panics: map[string]bool{q1.JSONKey(fsdstest.ADSH): true}}

	res, err := newRunner(t, store, appleTickers(t), nil).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Counts.Emitted)
	assert.Equal(t, int64(1), res.Counts.Failed)

	_, err = inner.Get(context.Background(), q1.JSONKey(secondADSH))
	assert.NoError(t, err)
}

func TestExtractAndConvertToJSON_AllSubmissionsFail(t *testing.T) {
	inner := fsdstest.MemStore()
	fsdstest.PutArchive(t, inner, q1.RawKey(), twoFilings())
	store := &faultyStore{Store: inner, fail: map[string]bool{
		q1.JSONKey(fsdstest.ADSH): true,
		q1.JSONKey(secondADSH):    true,
	}}
	ledger := newLedger(t)

	res, err := newRunner(t, store, appleTickers(t), ledger).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 attempted submissions failed")
	require.NotNil(t, res)
	assert.Equal(t, int64(2), res.Counts.Failed)
	assert.Zero(t, res.Counts.Emitted)

	entries, err := ledger.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, runlog.StatusFailed, entries[0].Status)
}

func TestFactGroupKeep(t *testing.T) {
	line := strings.Split(fsdstest.ADSH+"\tRevenues\tus-gaap/2023\tUSD", "\t")
	g := &factGroup{adsh: fsdstest.ADSH}
	g.keep(fsds.NumericFact{ADSH: line[0], Tag: line[1], Version: line[2], UOM: line[3]})

	require.Len(t, g.facts, 1)
	f := g.facts[0]
	assert.Equal(t, "Revenues", f.Tag)
	assert.Equal(t, "us-gaap/2023", f.Version)
	assert.Equal(t, "USD", f.UOM)
	assert.True(t, unsafe.StringData(f.ADSH) == unsafe.StringData(g.adsh), "adsh should share the group key")
	assert.True(t, unsafe.StringData(f.Tag) != unsafe.StringData(line[1]), "tag should not alias the scanned line")
	assert.True(t, unsafe.StringData(f.UOM) != unsafe.StringData(line[3]), "uom should not alias the scanned line")
}

func TestExtractAndConvertToJSON_UnpresentedFactsCounted(t *testing.T) {
	members := fsdstest.Fixture2024Q1()
	members["num.txt"] = fsdstest.TSV(fsdstest.NumHeader,
		[]string{fsdstest.ADSH, "Revenues", "us-gaap/2023", "20231231", "1", "USD", "", "119575000000", ""},
		[]string{fsdstest.ADSH, "Assets", "us-gaap/2023", "20231231", "0", "USD", "", "353514000000", ""},
		[]string{fsdstest.ADSH, "Liabilities", "us-gaap/2023", "20231231", "0", "USD", "", "290437000000", ""},
	)
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), members)

	res, err := newRunner(t, store, appleTickers(t), nil).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Counts.Facts)
	assert.Equal(t, int64(2), res.Counts.FactsDropped)
	assert.Equal(t, 3, res.Facts.Facts)
	assert.Equal(t, 2, res.Facts.NoPresentation)
	assert.Equal(t, 1, res.Facts.Classified)
}

func TestExtractAndConvertToJSON_Idempotent(t *testing.T) {
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), fsdstest.Fixture2024Q1())
	r := newRunner(t, store, appleTickers(t), nil)

	_, err := r.ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.NoError(t, err)
	first := readBlob(t, store, q1.JSONKey(fsdstest.ADSH))

	_, err = r.ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, readBlob(t, store, q1.JSONKey(fsdstest.ADSH))))
}

func TestExtractAndConvertToJSON_ArchiveNotFound(t *testing.T) {
	ledger := newLedger(t)
	res, err := newRunner(t, fsdstest.MemStore(), appleTickers(t), ledger).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.ErrorIs(t, err, fsds.ErrArchiveNotFound)

	entries, lerr := ledger.List(context.Background(), 1)
	require.NoError(t, lerr)
	require.Len(t, entries, 1)
	assert.Equal(t, res.RunID, entries[0].ID)
	assert.Equal(t, runlog.StatusFailed, entries[0].Status)
	assert.Contains(t, entries[0].Error, "archive not found")
}

func TestExtractAndConvertToJSON_MissingMember(t *testing.T) {
	members := fsdstest.Fixture2024Q1()
	delete(members, "pre.txt")
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), members)

	_, err := newRunner(t, store, appleTickers(t), nil).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.ErrorIs(t, err, fsds.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "pre.txt")
}

func TestExtractAndConvertToJSON_TickerUpstream(t *testing.T) {
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), fsdstest.Fixture2024Q1())

	tickers := &mockTickers{}
	tickers.On("Load", mock.Anything, "ticker.txt").Return(nil, ticker.ErrUpstream)

	_, err := newRunner(t, store, tickers, nil).ExtractAndConvertToJSON(context.Background(), 2024, 1)
	require.ErrorIs(t, err, ticker.ErrUpstream)

	keys, err := store.List(context.Background(), q1.JSONPrefix())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestExtractAndConvertToJSON_Cancelled(t *testing.T) {
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), fsdstest.Fixture2024Q1())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRunner(t, store, appleTickers(t), nil).ExtractAndConvertToJSON(ctx, 2024, 1)
	require.Error(t, err)
}

func TestExtractAndConvertToJSON_InvalidPartition(t *testing.T) {
	_, err := newRunner(t, fsdstest.MemStore(), appleTickers(t), nil).ExtractAndConvertToJSON(context.Background(), 2024, 5)
	assert.Error(t, err)
}

func TestExtractAndConvert(t *testing.T) {
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), fsdstest.Fixture2024Q1())
	tickers := &mockTickers{}

	res, err := newRunner(t, store, tickers, nil).ExtractAndConvert(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Counts.Tables)
	assert.Equal(t, int64(4), res.Counts.Rows)
	tickers.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)

	keys, err := store.List(context.Background(), "extracted/2024Q1/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"extracted/2024Q1/num.parquet",
		"extracted/2024Q1/pre.parquet",
		"extracted/2024Q1/sub.parquet",
		"extracted/2024Q1/tag.parquet",
	}, keys)
}

func TestExtractAndConvert_Idempotent(t *testing.T) {
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), fsdstest.Fixture2024Q1())
	r := newRunner(t, store, &mockTickers{}, nil)

	_, err := r.ExtractAndConvert(context.Background(), 2024, 1)
	require.NoError(t, err)
	first := readBlob(t, store, q1.ColumnarKey(fsds.FileNum))

	_, err = r.ExtractAndConvert(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, readBlob(t, store, q1.ColumnarKey(fsds.FileNum))))
}

func TestExtractAndConvert_PartialMembers(t *testing.T) {
	members := fsdstest.Fixture2024Q1()
	delete(members, "pre.txt")
	delete(members, "tag.txt")
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), members)

	res, err := newRunner(t, store, &mockTickers{}, nil).ExtractAndConvert(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Counts.Tables)
}

func TestExtractAndConvert_NoMembers(t *testing.T) {
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), fsdstest.Members{"readme.htm": "<html></html>"})

	_, err := newRunner(t, store, &mockTickers{}, nil).ExtractAndConvert(context.Background(), 2024, 1)
	require.ErrorIs(t, err, fsds.ErrSchemaMismatch)
}

func TestExists(t *testing.T) {
	store := fsdstest.MemStore()
	fsdstest.PutArchive(t, store, q1.RawKey(), fsdstest.Fixture2024Q1())
	r := newRunner(t, store, &mockTickers{}, nil)

	ok, err := r.Exists(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.ExtractAndConvert(context.Background(), 2024, 1)
	require.NoError(t, err)

	ok, err = r.Exists(context.Background(), 2024, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
