package fetcher

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,b,c\n1,2,3\n"), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"1", "2", "3"}}, rows)
}

func TestStreamCSV_TabWithHeader(t *testing.T) {
	headerCh := make(chan []string, 1)
	input := "adsh\ttag\tvalue\n0001-24-000001\tRevenues\t100\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '\t',
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"adsh", "tag", "value"}, <-headerCh)
	assert.Equal(t, [][]string{{"0001-24-000001", "Revenues", "100"}}, rows)
}

func TestStreamCSV_NoQuotes(t *testing.T) {
	// The stray quote would make encoding/csv treat the rest of the file as one field.
	input := "tag\tplabel\r\nA\t\"Quoted label\tB\nC\tplain\n\nD\t"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '\t',
		HasHeader: true,
		NoQuotes:  true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"A", `"Quoted label`, "B"}, rows[0])
	assert.Equal(t, []string{"C", "plain"}, rows[1])
	assert.Equal(t, []string{"D", ""}, rows[2])
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(" a | b \n"), CSVOptions{
		Delimiter: '|',
		NoQuotes:  true,
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, rows)
}

func TestStreamCSV_Empty(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{NoQuotes: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecordReader_LazyQuotesAndTrim(t *testing.T) {
	rr := NewRecordReader(strings.NewReader("a\"b\t 1 \n\"quoted\"\t2\nsolo\n"), CSVOptions{
		Delimiter:  '\t',
		LazyQuotes: true,
		TrimSpace:  true,
	})

	rec, err := rr.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{`a"b`, "1"}, rec)

	rec, err = rr.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"quoted", "2"}, rec)

	rec, err = rr.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, rec, "field counts may vary")

	_, err = rr.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecordReader_StrictQuotes(t *testing.T) {
	rr := NewRecordReader(strings.NewReader("a\"b,1\n"), CSVOptions{})
	_, err := rr.Read()
	require.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestStreamCSV_ReadError(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), failingReader{}, CSVOptions{NoQuotes: true})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestStreamCSV_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
