package scrape

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fetcher"
	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/fsds/fsdstest"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const listingHTML = `<!DOCTYPE html>
<html><head><title>Financial Statement Data Sets | SEC.gov</title></head>
<body>
<table>
<tr><td><a href="/files/dera/data/financial-statement-data-sets/2024q1.zip">2024 Q1</a></td><td>55.2 MB</td></tr>
<tr><td><a href="/files/dera/data/financial-statement-data-sets/2023q4.zip">2023 Q4</a></td><td>53.1 MB</td></tr>
<tr><td><a href="/files/dera/data/financial-statement-data-sets/2023q3.zip">Download</a></td><td>51.0 MB</td></tr>
<tr><td><a href="/files/dera/data/financial-statement-data-sets/2024q1.zip?v=2">2024  Q1 (mirror)</a></td></tr>
<tr><td><a href="/files/fsds-readme.pdf">Readme 2024 Q1</a></td></tr>
<tr><td><a href="/files/misc/archive.zip">Historical</a></td></tr>
</table>
</body></html>`

func newTestFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   "test-agent test@example.com",
		Timeout:     5 * time.Second,
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
	})
}

func secServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/listing", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, listingHTML)
	})
	for p, h := range routes {
		mux.HandleFunc(p, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func zipHandler(t *testing.T) http.HandlerFunc {
	data := fsdstest.ZIP(t, fsdstest.Fixture2024Q1())
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(data)
	}
}

func TestParseListing(t *testing.T) {
	links, err := ParseListing(strings.NewReader(listingHTML), "https://www.sec.gov/data-research/sec-markets-data/financial-statement-data-sets")
	require.NoError(t, err)
	require.Len(t, links, 3)

	assert.Equal(t, fsds.Partition{Year: 2023, Quarter: 3}, links[0].Partition)
	assert.Equal(t, "Download", links[0].Text)
	assert.Equal(t, fsds.Partition{Year: 2023, Quarter: 4}, links[1].Partition)
	assert.Equal(t, fsds.Partition{Year: 2024, Quarter: 1}, links[2].Partition)
	assert.Equal(t, "https://www.sec.gov/files/dera/data/financial-statement-data-sets/2024q1.zip", links[2].URL)
}

func TestSelect(t *testing.T) {
	links, err := ParseListing(strings.NewReader(listingHTML), "https://www.sec.gov/")
	require.NoError(t, err)

	assert.Len(t, Select(links, 2023, 0), 2)
	got := Select(links, 2023, 4)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Partition.Quarter)
	assert.Empty(t, Select(links, 2019, 0))
}

func TestFetch(t *testing.T) {
	srv := secServer(t, map[string]http.HandlerFunc{
		"/files/dera/data/financial-statement-data-sets/2024q1.zip": zipHandler(t),
	})
	store := fsdstest.MemStore()

	s := New(newTestFetcher(), store, srv.URL+"/listing", t.TempDir())
	got, err := s.Fetch(context.Background(), 2024, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "raw/2024_Q1.zip", got[0].Key)
	assert.Positive(t, got[0].Size)

	a, err := fsds.OpenArchive(context.Background(), store, t.TempDir(), fsds.Partition{Year: 2024, Quarter: 1})
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck
	assert.NoError(t, a.Require(fsds.FileTypes...))
}

func TestFetchWholeYear(t *testing.T) {
	srv := secServer(t, map[string]http.HandlerFunc{
		"/files/dera/data/financial-statement-data-sets/2023q3.zip": zipHandler(t),
		"/files/dera/data/financial-statement-data-sets/2023q4.zip": zipHandler(t),
	})
	store := fsdstest.MemStore()

	got, err := New(newTestFetcher(), store, srv.URL+"/listing", t.TempDir()).Fetch(context.Background(), 2023, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	keys, err := store.List(context.Background(), "raw/")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw/2023_Q3.zip", "raw/2023_Q4.zip"}, keys)
}

func TestFetchNoArchives(t *testing.T) {
	srv := secServer(t, nil)
	_, err := New(newTestFetcher(), fsdstest.MemStore(), srv.URL+"/listing", t.TempDir()).Fetch(context.Background(), 2019, 2)
	require.ErrorIs(t, err, ErrNoArchives)
	assert.Contains(t, err.Error(), "2019 Q2")
}

func TestFetchEmptyDownload(t *testing.T) {
	srv := secServer(t, map[string]http.HandlerFunc{
		"/files/dera/data/financial-statement-data-sets/2023q4.zip": func(w http.ResponseWriter, _ *http.Request) {},
	})
	store := fsdstest.MemStore()

	_, err := New(newTestFetcher(), store, srv.URL+"/listing", t.TempDir()).Fetch(context.Background(), 2023, 4)
	require.ErrorIs(t, err, ErrEmptyDownload)

	_, err = store.Get(context.Background(), "raw/2023_Q4.zip")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestFetchBlockPageInsteadOfZip(t *testing.T) {
	srv := secServer(t, map[string]http.HandlerFunc{
		"/files/dera/data/financial-statement-data-sets/2023q4.zip": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "<html><title>Request Rate Threshold Exceeded</title></html>")
		},
	})

	_, err := New(newTestFetcher(), fsdstest.MemStore(), srv.URL+"/listing", t.TempDir()).Fetch(context.Background(), 2023, 4)
	require.ErrorIs(t, err, ErrBlocked)
}

func TestFetchNotAZip(t *testing.T) {
	srv := secServer(t, map[string]http.HandlerFunc{
		"/files/dera/data/financial-statement-data-sets/2023q4.zip": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "plain bytes that are not an archive")
		},
	})

	_, err := New(newTestFetcher(), fsdstest.MemStore(), srv.URL+"/listing", t.TempDir()).Fetch(context.Background(), 2023, 4)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBlocked)
}

func TestDiscoverBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<h1>Your Request Originates from an Undeclared Automated Tool</h1>")
	}))
	defer srv.Close()

	_, err := New(newTestFetcher(), fsdstest.MemStore(), srv.URL, t.TempDir()).Discover(context.Background())
	require.ErrorIs(t, err, ErrBlocked)
	assert.Contains(t, err.Error(), "undeclared_tool")
}

func TestDiscoverServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(newTestFetcher(), fsdstest.MemStore(), srv.URL, t.TempDir()).Discover(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBlocked)
	assert.Contains(t, err.Error(), "scrape: fetch listing")
}
