package fsds

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// ErrSchemaMismatch means a member is missing or lacks required columns.
var ErrSchemaMismatch = errors.New("fsds: schema mismatch")

// Column is one output column of a normalized member.
type Column struct {
	Name string
	Kind Kind
}

// Header describes the normalized columns of one member, in output order.
type Header struct {
	Columns []Column
	pos     map[string]int
}

func newHeader(cols []Column) *Header {
	h := &Header{Columns: cols, pos: make(map[string]int, len(cols))}
	for i, c := range cols {
		h.pos[c.Name] = i
	}
	return h
}

// Index returns the position of name, or -1.
func (h *Header) Index(name string) int {
	if i, ok := h.pos[name]; ok {
		return i
	}
	return -1
}

// Row is one normalized record. Values hold nil (null), string, int64,
// decimal.Decimal, or time.Time according to the column kind.
type Row struct {
	Header *Header
	Values []any
}

func (r Row) get(name string) any {
	i := r.Header.Index(name)
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}

// String returns the column as a string, "" when null.
func (r Row) String(name string) string {
	s, _ := r.get(name).(string)
	return s
}

// Int returns the column as an int64 and whether it was non-null.
func (r Row) Int(name string) (int64, bool) {
	v, ok := r.get(name).(int64)
	return v, ok
}

// Decimal returns the column as a nullable decimal.
func (r Row) Decimal(name string) decimal.NullDecimal {
	d, ok := r.get(name).(decimal.Decimal)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}

// Date returns the column as a date and whether it was non-null.
func (r Row) Date(name string) (time.Time, bool) {
	t, ok := r.get(name).(time.Time)
	return t, ok
}

// Normalizer types raw records of one member.
type Normalizer struct {
	ft       FileType
	header   *Header
	srcIdx   []int // record index feeding each output column; -1 for source_file
	sourceID string
}

// NewNormalizer maps a raw header onto the schema for ft. Duplicate header
// names keep their first occurrence. Unknown columns become KindRaw and are
// logged once as drift.
func NewNormalizer(schema Schema, ft FileType, rawHeader []string, p Partition) (*Normalizer, error) {
	fs, ok := schema[ft]
	if !ok {
		return nil, eris.Wrapf(ErrSchemaMismatch, "no schema for %s", ft)
	}
	log := zap.L().With(zap.String("component", "fsds.normalize"), zap.String("member", ft.Member()), zap.String("partition", p.SourceID()))

	seen := make(map[string]bool, len(rawHeader))
	var cols []Column
	var srcIdx []int
	var drift, dups []string
	for i, raw := range rawHeader {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if name == "" || name == SourceFileColumn {
			continue
		}
		if seen[name] {
			dups = append(dups, name)
			continue
		}
		seen[name] = true

		kind, known := fs.Columns[name]
		if !known {
			kind = KindRaw
			drift = append(drift, name)
		}
		cols = append(cols, Column{Name: name, Kind: kind})
		srcIdx = append(srcIdx, i)
	}

	var missing []string
	for _, req := range fs.Required {
		if !seen[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrSchemaMismatch, "%s missing required columns %s", ft.Member(), strings.Join(missing, ", "))
	}

	if len(drift) > 0 {
		log.Warn("schema drift: unmapped columns passed through", zap.Strings("columns", drift))
	}
	if len(dups) > 0 {
		log.Warn("duplicate header columns dropped", zap.Strings("columns", dups))
	}

	cols = append(cols, Column{Name: SourceFileColumn, Kind: KindString})
	srcIdx = append(srcIdx, -1)

	return &Normalizer{
		ft:       ft,
		header:   newHeader(cols),
		srcIdx:   srcIdx,
		sourceID: p.SourceID(),
	}, nil
}

// Header returns the normalized column layout.
func (n *Normalizer) Header() *Header { return n.header }

// Normalize types one raw record. Short records read missing fields as null.
func (n *Normalizer) Normalize(record []string) Row {
	vals := make([]any, len(n.srcIdx))
	for i, src := range n.srcIdx {
		if src < 0 {
			vals[i] = n.sourceID
			continue
		}
		if src >= len(record) {
			continue
		}
		vals[i] = coerce(n.header.Columns[i].Kind, record[src])
	}
	return Row{Header: n.header, Values: vals}
}

func coerce(kind Kind, raw string) any {
	s := cleanString(raw)
	if s == "" {
		return nil
	}
	switch kind {
	case KindInt:
		if v, ok := parseInt(s); ok {
			return v
		}
		return nil
	case KindDecimal:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		return d
	case KindDate:
		if t, ok := ParseDate(s); ok {
			return t
		}
		return nil
	default:
		return s
	}
}

// cleanString trims s and reinterprets invalid UTF-8 as Windows-1252, which is
// what older filer-supplied names and labels use.
func cleanString(s string) string {
	if !utf8.ValidString(s) {
		if decoded, err := charmap.Windows1252.NewDecoder().String(s); err == nil {
			s = decoded
		} else {
			s = strings.ToValidUTF8(s, "")
		}
	}
	return strings.TrimSpace(s)
}

// parseInt accepts integers and integral floats ("2024.0"). Overflow is null.
func parseInt(s string) (int64, bool) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ParseDate parses a YYYYMMDD value, tolerating a float rendering such as
// "20240331.0". Impossible calendar dates are rejected.
func ParseDate(s string) (time.Time, bool) {
	v, ok := parseInt(strings.TrimSpace(s))
	if !ok || v < 10000101 || v > 99991231 {
		return time.Time{}, false
	}
	y, m, d := int(v/10000), time.Month(v/100%100), int(v%100)
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || t.Month() != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
