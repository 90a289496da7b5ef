package emit

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/fsds/classify"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var q1 = fsds.Partition{Year: 2024, Quarter: 1}

func testDoc() *classify.FinancialDocument {
	b := classify.NewBuckets()
	b.IC = append(b.IC, classify.Record{Label: "Revenue doc", Concept: "Revenues", Info: "Total Revenue", Unit: "USD", Value: 1.5e11})
	return &classify.FinancialDocument{
		Quarter: "Q1", Country: "US", Data: b, Year: 2024, Name: "APPLE INC",
		StartDate: "2023-12-31", EndDate: "2023-12-31", Symbol: "aapl", City: "CUPERTINO",
	}
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

func TestJSONEmit(t *testing.T) {
	store := blob.NewFSStore(afero.NewMemMapFs(), "")
	e := NewJSONEmitter(store)

	key, n, err := e.Emit(context.Background(), q1, "0001-24-000001", testDoc())
	require.NoError(t, err)
	assert.Equal(t, "JSON_Conversion/2024/q1/0001-24-000001.json", key)

	data := readBlob(t, store, key)
	assert.Len(t, data, n)
	assert.JSONEq(t, `{
		"quarter":"Q1","country":"US",
		"data":{"bs":[],"cf":[],"ic":[{"label":"Revenue doc","concept":"Revenues","info":"Total Revenue","unit":"USD","value":150000000000}]},
		"year":2024,"name":"APPLE INC","startDate":"2023-12-31","endDate":"2023-12-31","symbol":"aapl","city":"CUPERTINO"
	}`, string(data))
}

func TestJSONEmitIdempotent(t *testing.T) {
	store := blob.NewFSStore(afero.NewMemMapFs(), "")
	e := NewJSONEmitter(store)

	key, _, err := e.Emit(context.Background(), q1, "a", testDoc())
	require.NoError(t, err)
	first := readBlob(t, store, key)

	_, _, err = e.Emit(context.Background(), q1, "a", testDoc())
	require.NoError(t, err)
	assert.Equal(t, first, readBlob(t, store, key))

	keys, err := store.List(context.Background(), q1.JSONPrefix())
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestEncodeDocumentNonFinite(t *testing.T) {
	doc := testDoc()
	doc.Data.BS = append(doc.Data.BS, classify.Record{Concept: "A", Value: math.NaN()})
	doc.Data.CF = append(doc.Data.CF, classify.Record{Concept: "B", Value: math.Inf(1)})

	data, err := EncodeDocument(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "NaN")
	assert.NotContains(t, string(data), "Inf")

	back, err := DecodeDocument(data)
	require.NoError(t, err)
	assert.Equal(t, 0.0, back.Data.BS[0].Value)
	assert.Equal(t, 0.0, back.Data.CF[0].Value)
}

func TestEncodeDocumentNil(t *testing.T) {
	_, err := EncodeDocument(nil)
	assert.Error(t, err)
}
