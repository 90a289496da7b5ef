// Package fsdstest builds small Financial Statement Data Sets archives for tests.
package fsdstest

import (
	"archive/zip"
	"bytes"
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/secfin/internal/blob"
)

// Members maps archive member names ("sub.txt") to their contents.
type Members map[string]string

// TSV joins rows of fields into a tab-delimited member body.
func TSV(rows ...[]string) string {
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(strings.Join(r, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// Headers for the four members, matching the published layout.
var (
	SubHeader = []string{"adsh", "cik", "name", "sic", "countryba", "cityba", "countryma", "cityma", "form", "period", "fy", "fp", "filed"}
	NumHeader = []string{"adsh", "tag", "version", "ddate", "qtrs", "uom", "coreg", "value", "footnote"}
	PreHeader = []string{"adsh", "report", "line", "stmt", "inpth", "rfile", "tag", "version", "plabel", "negating"}
	TagHeader = []string{"tag", "version", "custom", "abstract", "datatype", "iord", "crdr", "tlabel", "doc"}
)

// Q1 2024 fixture: one submission with one Revenues fact presented on the
// income statement.
const (
	ADSH        = "0001-24-000001"
	CIK         = "320193"
	RevenueDoc  = "Amount of revenue recognized from goods sold and services rendered."
	RevenueInfo = "Total Revenue"
)

// Fixture2024Q1 returns the end-to-end fixture members.
func Fixture2024Q1() Members {
	return Members{
		"sub.txt": TSV(SubHeader,
			[]string{ADSH, CIK, "APPLE INC", "3571", "US", "CUPERTINO", "US", "CUPERTINO", "10-Q", "20231231", "2024", "Q1", "20240202"},
		),
		"num.txt": TSV(NumHeader,
			[]string{ADSH, "Revenues", "us-gaap/2023", "20231231", "1", "USD", "", "119575000000", ""},
		),
		"pre.txt": TSV(PreHeader,
			[]string{ADSH, "4", "1", "IC", "0", "H", "Revenues", "us-gaap/2023", RevenueInfo, "0"},
		),
		"tag.txt": TSV(TagHeader,
			[]string{"Revenues", "us-gaap/2023", "0", "0", "monetary", "D", "C", "Revenues", RevenueDoc},
		),
	}
}

// ZIP encodes members as a ZIP archive with deterministic entry order.
func ZIP(t testing.TB, members Members) []byte {
	t.Helper()
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(members[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// MemStore returns an empty in-memory blob store.
func MemStore() *blob.FSStore {
	return blob.NewFSStore(afero.NewMemMapFs(), "")
}

// PutArchive writes members as a ZIP at key.
func PutArchive(t testing.TB, store blob.Store, key string, members Members) {
	t.Helper()
	data := ZIP(t, members)
	require.NoError(t, store.Put(context.Background(), key, bytes.NewReader(data), int64(len(data))))
}
