package classify

import (
	"math"
	"strings"

	"github.com/sells-group/secfin/internal/fsds"
)

// Bucket is a statement section of a financial document.
type Bucket string

// Statement buckets.
const (
	BucketBS Bucket = "bs"
	BucketCF Bucket = "cf"
	BucketIC Bucket = "ic"
)

// UnknownLabel is used when a fact's tag has no tag.txt row.
const UnknownLabel = "Unknown"

// Router maps pre.txt stmt codes to buckets. Codes not in the table are dropped.
type Router map[string]Bucket

// DefaultRouter sends BS, CF, and both IC and IS to their buckets. EQ, CI,
// UN and anything else are not emitted.
var DefaultRouter = Router{
	"BS": BucketBS,
	"CF": BucketCF,
	"IC": BucketIC,
	"IS": BucketIC,
}

// Route returns the bucket for a stmt code.
func (r Router) Route(stmt string) (Bucket, bool) {
	b, ok := r[strings.ToUpper(strings.TrimSpace(stmt))]
	return b, ok
}

// Record is one classified line item.
type Record struct {
	Label   string  `json:"label"`
	Concept string  `json:"concept"`
	Info    string  `json:"info"`
	Unit    string  `json:"unit"`
	Value   float64 `json:"value"`
}

// Buckets holds a submission's classified records. The slices are never nil
// so an empty bucket encodes as [].
type Buckets struct {
	BS []Record `json:"bs"`
	CF []Record `json:"cf"`
	IC []Record `json:"ic"`
}

// NewBuckets returns empty, non-nil buckets.
func NewBuckets() Buckets {
	return Buckets{BS: []Record{}, CF: []Record{}, IC: []Record{}}
}

func (b *Buckets) add(bucket Bucket, r Record) {
	switch bucket {
	case BucketBS:
		b.BS = append(b.BS, r)
	case BucketCF:
		b.CF = append(b.CF, r)
	case BucketIC:
		b.IC = append(b.IC, r)
	}
}

// Len returns the total number of records.
func (b Buckets) Len() int { return len(b.BS) + len(b.CF) + len(b.IC) }

// Stats counts what happened to a submission's facts.
type Stats struct {
	Facts          int `json:"facts"`
	Classified     int `json:"classified"`
	NoPresentation int `json:"no_presentation"`
	Unrouted       int `json:"unrouted"`
	UnknownTag     int `json:"unknown_tag"`
	NullValues     int `json:"null_values"`
}

// Dropped is the number of facts that produced no record.
func (s Stats) Dropped() int { return s.NoPresentation + s.Unrouted }

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Facts += o.Facts
	s.Classified += o.Classified
	s.NoPresentation += o.NoPresentation
	s.Unrouted += o.Unrouted
	s.UnknownTag += o.UnknownTag
	s.NullValues += o.NullValues
}

// Classifier joins facts against archive-wide indexes.
type Classifier struct {
	Tags   *TagIndex
	Pres   *PresentationIndex
	Router Router
}

// New returns a classifier using DefaultRouter.
func New(tags *TagIndex, pres *PresentationIndex) *Classifier {
	return &Classifier{Tags: tags, Pres: pres, Router: DefaultRouter}
}

// Classify sorts one submission's facts into buckets. Facts with no
// presentation entry, or whose stmt code has no bucket, are dropped and
// counted. A null value is recorded as 0.
func (c *Classifier) Classify(adsh string, facts []fsds.NumericFact) (Buckets, Stats) {
	out := NewBuckets()
	var st Stats
	for _, f := range facts {
		st.Facts++

		stmt, info, ok := c.Pres.Lookup(adsh, f.Tag)
		if !ok {
			st.NoPresentation++
			continue
		}
		bucket, ok := c.Router.Route(stmt)
		if !ok {
			st.Unrouted++
			continue
		}

		label := UnknownLabel
		if t, ok := c.Tags.Lookup(f.Tag, f.Version); ok {
			switch {
			case t.Doc != "":
				label = t.Doc
			case t.TLabel != "":
				label = t.TLabel
			}
		} else {
			st.UnknownTag++
		}

		out.add(bucket, Record{
			Label:   label,
			Concept: f.Tag,
			Info:    info,
			Unit:    f.UOM,
			Value:   factValue(f, &st),
		})
		st.Classified++
	}
	return out, st
}

func factValue(f fsds.NumericFact, st *Stats) float64 {
	if !f.Value.Valid {
		st.NullValues++
		return 0
	}
	v := f.Value.Decimal.InexactFloat64()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		st.NullValues++
		return 0
	}
	return v
}
