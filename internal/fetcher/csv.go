package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the table parsers.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // StreamCSV only: first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row; must have room for one
	LazyQuotes bool
	TrimSpace  bool
	// NoQuotes splits each line on Delimiter with no quote handling. SEC
	// financial statement data sets are tab-delimited and never quoted, and a
	// label that happens to start with '"' must not swallow the rest of the file.
	NoQuotes bool
}

// StreamCSV reads a delimited table and sends rows to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		rr := NewRecordReader(r, opts)

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := rr.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// RecordReader reads one delimited record per call. It satisfies
// csvutil.Reader, so a decoder can sit directly on top of it.
type RecordReader struct {
	next func() ([]string, error)
	trim bool
}

// NewRecordReader returns a reader over r. NoQuotes splits lines directly;
// otherwise encoding/csv parses quoting with LazyQuotes as configured.
// Records may have any number of fields.
func NewRecordReader(r io.Reader, opts CSVOptions) *RecordReader {
	return &RecordReader{next: newRecordFunc(r, opts), trim: opts.TrimSpace}
}

// Read returns the next record, or io.EOF.
func (rr *RecordReader) Read() ([]string, error) {
	record, err := rr.next()
	if err != nil {
		return nil, err
	}
	if rr.trim {
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
	}
	return record, nil
}

func newRecordFunc(r io.Reader, opts CSVOptions) func() ([]string, error) {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ','
	}

	if opts.NoQuotes {
		br := bufio.NewReaderSize(r, 256*1024)
		sep := string(delim)
		return func() ([]string, error) {
			for {
				line, err := br.ReadString('\n')
				if err != nil && (err != io.EOF || line == "") {
					return nil, err
				}
				line = strings.TrimRight(line, "\r\n")
				if line == "" {
					if err == io.EOF {
						return nil, io.EOF
					}
					continue
				}
				return strings.Split(line, sep), nil
			}
		}
	}

	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields
	return reader.Read
}
